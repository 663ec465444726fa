package abac

import "strings"

// Namespace prefixes understood by the resolver.
var referencePrefixes = []string{"user.", "subject.", "resource.", "environment.", "env."}

// ResolveAttribute looks up a dotted path such as "user.role" or
// "resource.owner.id". The first segment picks the namespace; an unknown first
// segment is looked up as a top-level key in subject, resource and environment, in
// that order. A nil result means the attribute is absent.
func ResolveAttribute(path string, subject Subject, resource Resource, env Environment) any {
	segments := strings.Split(path, ".")
	head, rest := segments[0], segments[1:]

	switch head {
	case "user", "subject":
		return walk(map[string]any(subject), rest)
	case "resource":
		return walk(map[string]any(resource), rest)
	case "environment", "env":
		return walk(map[string]any(env), rest)
	}

	for _, ns := range []map[string]any{subject, resource, env} {
		if _, ok := ns[head]; ok {
			return walk(ns, segments)
		}
	}
	return nil
}

// isAttributeReference reports whether a rule value names another attribute.
func isAttributeReference(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	for _, p := range referencePrefixes {
		if strings.HasPrefix(s, p) {
			return s, true
		}
	}
	return "", false
}

// walk descends through nested maps. Any missing or non-map intermediate
// yields nil.
func walk(cur any, path []string) any {
	for _, seg := range path {
		if cur == nil {
			return nil
		}
		switch m := cur.(type) {
		case map[string]any:
			cur = m[seg]
		case Attributes:
			cur = m[seg]
		case Subject:
			cur = m[seg]
		case Resource:
			cur = m[seg]
		case Environment:
			cur = m[seg]
		case map[string]string:
			s, ok := m[seg]
			if !ok {
				return nil
			}
			cur = s
		default:
			return nil
		}
	}
	return cur
}
