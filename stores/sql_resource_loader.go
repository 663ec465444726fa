package stores

import (
	"context"
	"database/sql"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/squealx"
)

// SQLResourceLoader flattens application records into resource attributes.
// Document, user and department records are looked up; every other resource
// type is described only by its id and type.
type SQLResourceLoader struct {
	db *squealx.DB
}

func NewSQLResourceLoader(db *squealx.DB) *SQLResourceLoader {
	return &SQLResourceLoader{db: db}
}

func (l *SQLResourceLoader) LoadResourceAttributes(ctx context.Context, resourceType, resourceID string) (abac.Resource, error) {
	switch resourceType {
	case "document", "compliance-document":
		return l.loadDocument(ctx, resourceType, resourceID)
	case "user":
		return l.loadUser(ctx, resourceID)
	case "department":
		return l.loadDepartment(ctx, resourceID)
	default:
		return abac.NewResource(resourceType, map[string]any{abac.AttrID: resourceID}), nil
	}
}

func (l *SQLResourceLoader) loadDocument(ctx context.Context, resourceType, id string) (abac.Resource, error) {
	q := `SELECT d.id, s.name, d.category_id, c.name, d.created_by, v.expiration_date
FROM documents d
LEFT JOIN document_statuses s ON s.id = d.status_id
LEFT JOIN categories c ON c.id = d.category_id
LEFT JOIN document_versions v ON v.id = d.current_version_id
WHERE d.id = :id`
	r, err := l.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if err := firstRow(r); err != nil {
		r.Close()
		return nil, err
	}
	var docID string
	var status, categoryID, category, createdBy, expiration sql.NullString
	err = r.Scan(&docID, &status, &categoryID, &category, &createdBy, &expiration)
	r.Close()
	if err != nil {
		return nil, err
	}

	attrs := map[string]any{abac.AttrID: docID}
	setIfValid(attrs, abac.AttrStatus, status)
	setIfValid(attrs, abac.AttrCategoryID, categoryID)
	setIfValid(attrs, abac.AttrCategory, category)
	setIfValid(attrs, abac.AttrCreatedBy, createdBy)
	if expiration.Valid {
		if t, err := parseFlexibleTime(expiration.String); err == nil {
			attrs[abac.AttrExpirationDate] = t
		} else {
			attrs[abac.AttrExpirationDate] = expiration.String
		}
	}

	// only the first linked department is exposed
	dq := `SELECT dep.id, dep.name FROM document_departments dd JOIN departments dep ON dep.id = dd.department_id WHERE dd.document_id = :id ORDER BY dd.position ASC, dep.id ASC LIMIT 1`
	dr, err := l.db.NamedQueryContext(ctx, dq, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer dr.Close()
	if dr.Next() {
		var depID, depName string
		if err := dr.Scan(&depID, &depName); err != nil {
			return nil, err
		}
		attrs[abac.AttrDepartmentID] = depID
		attrs[abac.AttrDepartment] = depName
	} else if err := dr.Err(); err != nil {
		return nil, err
	}
	return abac.NewResource(resourceType, attrs), nil
}

func (l *SQLResourceLoader) loadUser(ctx context.Context, id string) (abac.Resource, error) {
	q := `SELECT u.id, u.department_id, dep.name, u.role_id, r.name
FROM users u
LEFT JOIN departments dep ON dep.id = u.department_id
LEFT JOIN roles r ON r.id = u.role_id
WHERE u.id = :id`
	r, err := l.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := firstRow(r); err != nil {
		return nil, err
	}
	var userID string
	var departmentID, department, roleID, role sql.NullString
	if err := r.Scan(&userID, &departmentID, &department, &roleID, &role); err != nil {
		return nil, err
	}
	attrs := map[string]any{abac.AttrID: userID}
	setIfValid(attrs, abac.AttrDepartmentID, departmentID)
	setIfValid(attrs, abac.AttrDepartment, department)
	setIfValid(attrs, abac.AttrRoleID, roleID)
	setIfValid(attrs, abac.AttrRole, role)
	return abac.NewResource("user", attrs), nil
}

func (l *SQLResourceLoader) loadDepartment(ctx context.Context, id string) (abac.Resource, error) {
	r, err := l.db.NamedQueryContext(ctx, `SELECT id, name FROM departments WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if err := firstRow(r); err != nil {
		return nil, err
	}
	var depID, name string
	if err := r.Scan(&depID, &name); err != nil {
		return nil, err
	}
	return abac.NewResource("department", map[string]any{abac.AttrID: depID, abac.AttrName: name}), nil
}

// firstRow advances to the first row. An exhausted cursor is
// ErrResourceNotFound unless iteration stopped on an error.
func firstRow(r *squealx.Rows) error {
	if r.Next() {
		return nil
	}
	if err := r.Err(); err != nil {
		return err
	}
	return abac.ErrResourceNotFound
}
