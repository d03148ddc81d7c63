package naming

import (
	"log/slog"
	"strings"
)

// Namer provides all name transformation functions for converting SQL names
// and declared operation names to protocol names.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// EntityTypeName converts a table name to a singular PascalCase entity type name.
// Example: "order_items" -> "OrderItem"
func (n *Namer) EntityTypeName(tableName string) string {
	return n.validateAndSuffix(n.Singularize(toPascalCase(tableName)))
}

// EntitySetName converts a table name to a plural PascalCase entity set name.
// Example: "person" -> "People" (with inflection), "order_items" -> "OrderItems"
func (n *Namer) EntitySetName(tableName string) string {
	return n.validateAndSuffix(n.Pluralize(n.Singularize(toPascalCase(tableName))))
}

// PropertyName converts a column name to a PascalCase property name.
// Example: "first_name" -> "FirstName"
func (n *Namer) PropertyName(columnName string) string {
	return n.validateAndSuffix(toPascalCase(columnName))
}

// ExternalName converts an internal operation name to its published name.
// Example: "unboundWithImport" -> "UnboundWithImport"
func (n *Namer) ExternalName(internalName string) string {
	name := toPascalCase(internalName)
	if name == "" {
		return name
	}
	return n.validateAndSuffix(strings.ToUpper(name[:1]) + name[1:])
}

// ManyToOneName generates the navigation property name for a many-to-one
// relationship based on the FK column name with common suffixes stripped.
// Example: "author_id" -> "Author", "created_by_user_id" -> "CreatedByUser"
func (n *Namer) ManyToOneName(fkColumn string) string {
	name := fkColumn
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return n.PropertyName(name)
}

// OneToManyName generates the navigation property name for a one-to-many relationship.
// If isOnlyFK is true (single FK from source table), uses the pluralized type name.
// Otherwise, prefixes with the FK column name for disambiguation.
// Example: isOnlyFK=true: "comments" -> "Comments"
// Example: isOnlyFK=false, fkColumn="author_id": "posts" -> "AuthorPosts"
func (n *Namer) OneToManyName(sourceTable, fkColumn string, isOnlyFK bool) string {
	plural := n.EntitySetName(sourceTable)
	if isOnlyFK {
		return plural
	}
	return n.ManyToOneName(fkColumn) + plural
}

// RegisterEntityType registers a table and returns the resolved entity type name.
func (n *Namer) RegisterEntityType(tableName string) string {
	return n.resolver.RegisterType(n.EntityTypeName(tableName), tableName)
}

// RegisterEntitySet registers a table and returns the resolved entity set name.
func (n *Namer) RegisterEntitySet(tableName string) string {
	return n.resolver.RegisterEntitySet(n.EntitySetName(tableName), tableName)
}

// RegisterProperty registers a column property and returns the resolved name.
// Columns always win in precedence, so this establishes the property name.
func (n *Namer) RegisterProperty(typeName, columnName string) string {
	return n.resolver.RegisterField(typeName, n.PropertyName(columnName), "column:"+columnName)
}

// RegisterNavigation registers a navigation property and returns the resolved name.
// If the name collides with a property, a Ref (to-one) or Rel (to-many) suffix is applied.
func (n *Namer) RegisterNavigation(typeName, name, source string, toOne bool) string {
	if n.resolver.FieldExists(typeName, name) {
		if toOne {
			name += "Ref"
		} else {
			name += "Rel"
		}
	}
	return n.resolver.RegisterField(typeName, n.validateAndSuffix(name), "navigation:"+source)
}

func (n *Namer) validateAndSuffix(name string) string {
	if isReservedName(name) {
		safeName := name + "_"
		n.logger.Warn("name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safeName),
		)
		return safeName
	}
	return name
}

// toPascalCase converts snake_case or camelCase to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}
