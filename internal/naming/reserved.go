package naming

import "strings"

// reservedWords are identifiers with protocol meaning in URLs and $filter expressions.
var reservedWords = map[string]bool{
	"and":    true,
	"or":     true,
	"not":    true,
	"eq":     true,
	"ne":     true,
	"gt":     true,
	"ge":     true,
	"lt":     true,
	"le":     true,
	"in":     true,
	"has":    true,
	"true":   true,
	"false":  true,
	"null":   true,
	"it":     true,
	"$count": true,
	"$value": true,
	"$ref":   true,
}

// isReservedName checks if a name is reserved.
func isReservedName(name string) bool {
	lowerName := strings.ToLower(name)
	if strings.HasPrefix(lowerName, "$") || strings.HasPrefix(lowerName, "odata.") {
		return true
	}
	if strings.HasPrefix(lowerName, "edm.") {
		return true
	}
	return reservedWords[lowerName]
}
