package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/abac/logger"
	"github.com/oarkflow/abac/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("abac-policy - Policy tool for the abac engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  abac-policy convert <input> <output>   - Convert between formats")
	fmt.Println("  abac-policy validate <file>            - Validate configuration")
	fmt.Println("  abac-policy stats <file>               - Show configuration statistics")
	fmt.Println("  abac-policy apply <file>               - Load policies into the configured store")
	fmt.Println("  abac-policy check <file> <request>     - Explain the decision for a request")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func loadConfig(filename string) *abac.Config {
	cfg, err := abac.NewConfigLoader().LoadFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: abac-policy convert <input> <output>")
		os.Exit(1)
	}
	inputFile, outputFile := os.Args[2], os.Args[3]
	cfg := loadConfig(inputFile)
	if err := cfg.SaveFile(outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: abac-policy validate <file>")
		os.Exit(1)
	}
	cfg := loadConfig(os.Args[2])
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Policies: %d\n", len(cfg.Policies))
	fmt.Printf("  Store: %s\n", cfg.Store.DriverName())
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: abac-policy stats <file>")
		os.Exit(1)
	}
	filename := os.Args[2]
	cfg := loadConfig(filename)
	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	var allow, deny, inactive, rules, grouped, assigned int
	byTarget := make(map[string]int)
	for _, p := range cfg.Policies {
		if p == nil {
			continue
		}
		if p.Effect.Is(abac.EffectAllow) {
			allow++
		} else {
			deny++
		}
		if !p.IsActive {
			inactive++
		}
		if len(p.Assignments) > 0 {
			assigned++
		}
		rules += len(p.Rules)
		for _, r := range p.Rules {
			if r.GroupIndex != nil {
				grouped++
			}
		}
		byTarget[p.ResourceType+":"+p.Action]++
	}

	fmt.Println("Policy Details:")
	fmt.Printf("  Policies:         %d\n", len(cfg.Policies))
	fmt.Printf("  Allow policies:   %d\n", allow)
	fmt.Printf("  Deny policies:    %d\n", deny)
	fmt.Printf("  Inactive:         %d\n", inactive)
	fmt.Printf("  With assignments: %d\n", assigned)
	fmt.Printf("  Rules:            %d (%d grouped)\n", rules, grouped)
	fmt.Println()

	if len(byTarget) > 0 {
		fmt.Println("Resource Type / Action:")
		for target, n := range byTarget {
			fmt.Printf("  %s: %d\n", target, n)
		}
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Batch worker count:  %d\n", cfg.Engine.BatchWorkerCount)
	fmt.Printf("  Policy cache:        %t\n", cfg.Engine.PolicyCache.Enabled)
	if cfg.Engine.PolicyCache.Enabled {
		fmt.Printf("  Policy cache TTL:    %dms\n", cfg.Engine.PolicyCache.TTLMillis)
	}
	fmt.Printf("  Store driver:        %s\n", cfg.Store.DriverName())
}

func openBackend(ctx context.Context, cfg *abac.Config) *stores.Backend {
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	backend, err := stores.Open(ctx, cfg)
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	if err := abac.ApplyPolicies(ctx, backend.Writer, cfg); err != nil {
		backend.Close()
		fmt.Printf("Error applying policies: %v\n", err)
		os.Exit(1)
	}
	return backend
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: abac-policy apply <file>")
		os.Exit(1)
	}
	ctx := context.Background()
	cfg := loadConfig(os.Args[2])
	backend := openBackend(ctx, cfg)
	defer backend.Close()
	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Policies loaded: %d\n", len(cfg.Policies))
	fmt.Printf("  Store: %s\n", cfg.Store.DriverName())
}

// checkRequest is an AccessRequest that may name a stored resource instead
// of carrying its attributes.
type checkRequest struct {
	abac.AccessRequest
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
}

func handleCheck() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: abac-policy check <file> <request.json>")
		os.Exit(1)
	}
	ctx := context.Background()
	cfg := loadConfig(os.Args[2])

	data, err := os.ReadFile(os.Args[3])
	if err != nil {
		fmt.Printf("Error reading request: %v\n", err)
		os.Exit(1)
	}
	var req checkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Printf("Error parsing request: %v\n", err)
		os.Exit(1)
	}

	backend := openBackend(ctx, cfg)
	opts := append(cfg.EngineOptions(),
		abac.WithLogger(logger.NewPhusluLogger()),
		abac.WithResourceLoader(backend.Loader))
	engine, err := abac.NewEngine(backend.Store, opts...)
	if err != nil {
		backend.Close()
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}

	var decision *abac.Decision
	if req.ResourceID != "" {
		decision, err = engine.ExplainWithResource(ctx, req.Subject, req.ResourceType, req.ResourceID, req.Action, req.Environment)
	} else {
		decision, err = engine.Explain(ctx, &req.AccessRequest)
	}
	backend.Close()
	if err != nil {
		fmt.Printf("Error evaluating request: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(decision, "", "  ")
	fmt.Println(string(out))
	if !decision.Allowed {
		os.Exit(2)
	}
}
