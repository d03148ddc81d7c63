package naming

import (
	"fmt"
	"log/slog"
)

const (
	scopeEntityTypes = "entity types"
	scopeEntitySets  = "entity sets"
)

// nameSet maps each claimed name to the source that claimed it.
type nameSet map[string]string

// CollisionResolver hands out unique names per scope. The model has one scope
// for entity types, one for entity sets, and one per entity type for its
// properties. A name claimed by a different source gets the first free
// numeric suffix starting at 2.
type CollisionResolver struct {
	scopes map[string]nameSet
	logger *slog.Logger
}

// NewCollisionResolver creates an empty resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{scopes: map[string]nameSet{}, logger: logger}
}

// RegisterType claims an entity type name for a table.
func (c *CollisionResolver) RegisterType(typeName, tableName string) string {
	return c.claim(scopeEntityTypes, typeName, "table:"+tableName)
}

// RegisterEntitySet claims an entity set name for a table.
func (c *CollisionResolver) RegisterEntitySet(setName, tableName string) string {
	return c.claim(scopeEntitySets, setName, "table:"+tableName)
}

// RegisterField claims a property or navigation name within an entity type.
func (c *CollisionResolver) RegisterField(typeName, fieldName, source string) string {
	return c.claim("type:"+typeName, fieldName, source)
}

// FieldExists reports whether an entity type already has a member named fieldName.
func (c *CollisionResolver) FieldExists(typeName, fieldName string) bool {
	_, ok := c.scopes["type:"+typeName][fieldName]
	return ok
}

func (c *CollisionResolver) claim(scope, name, source string) string {
	set, ok := c.scopes[scope]
	if !ok {
		set = nameSet{}
		c.scopes[scope] = set
	}

	owner, taken := set[name]
	if !taken || owner == source {
		set[name] = source
		return name
	}

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", name, i)
		if owner, taken := set[suffixed]; !taken || owner == source {
			set[suffixed] = source
			c.logger.Warn("naming collision detected, applying suffix",
				slog.String("scope", scope),
				slog.String("name", name),
				slog.String("renamed", suffixed),
				slog.String("existing_source", set[name]),
				slog.String("new_source", source),
			)
			return suffixed
		}
	}
}
