package edmtype

import (
	"strconv"
	"strings"
)

// FromSQL maps an INFORMATION_SCHEMA column type onto a primitive TypeRef.
// dataType is the base type (DATA_TYPE); columnType may carry size
// specifiers like decimal(10,2) or varchar(255) (COLUMN_TYPE).
func FromSQL(dataType, columnType string, nullable bool) *TypeRef {
	base := strings.ToUpper(strings.TrimSpace(dataType))
	if idx := strings.Index(base, "("); idx != -1 {
		base = base[:idx]
	}
	unsigned := strings.Contains(strings.ToLower(columnType), "unsigned")
	length, scale, hasLength := sizeSpec(columnType)

	ref := &TypeRef{Kind: KindPrimitive, Facets: Facets{Nullable: nullable}}
	switch base {
	case "TINYINT":
		switch {
		case hasLength && length == 1:
			ref.Name = string(Boolean)
		case unsigned:
			ref.Name = string(Byte)
		default:
			ref.Name = string(SByte)
		}
	case "SMALLINT":
		ref.Name = string(Int16)
		if unsigned {
			ref.Name = string(Int32)
		}
	case "MEDIUMINT", "INT", "INTEGER":
		ref.Name = string(Int32)
		if unsigned {
			ref.Name = string(Int64)
		}
	case "BIGINT", "SERIAL":
		ref.Name = string(Int64)
	case "BIT":
		ref.Name = string(Int64)
		if hasLength && length == 1 {
			ref.Name = string(Boolean)
		}
	case "BOOL", "BOOLEAN":
		ref.Name = string(Boolean)
	case "FLOAT":
		ref.Name = string(Single)
	case "DOUBLE", "REAL":
		ref.Name = string(Double)
	case "DECIMAL", "NUMERIC":
		ref.Name = string(Decimal)
		if hasLength {
			ref.Facets.Precision = intPtr(length)
			ref.Facets.Scale = intPtr(scale)
		}
	case "CHAR", "VARCHAR":
		ref.Name = string(String)
		if hasLength {
			ref.Facets.MaxLength = intPtr(length)
		}
	case "TINYTEXT", "TEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM", "SET", "JSON":
		ref.Name = string(String)
	case "BINARY", "VARBINARY":
		ref.Name = string(Binary)
		if hasLength {
			ref.Facets.MaxLength = intPtr(length)
		}
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		ref.Name = string(Binary)
	case "DATE":
		ref.Name = string(Date)
	case "DATETIME", "TIMESTAMP":
		ref.Name = string(DateTimeOffset)
		if hasLength {
			ref.Facets.Precision = intPtr(length)
		}
	case "TIME":
		ref.Name = string(TimeOfDay)
		if hasLength {
			ref.Facets.Precision = intPtr(length)
		}
	case "YEAR":
		ref.Name = string(Int16)
	case "POINT":
		ref.Name = "Edm.GeometryPoint"
	case "LINESTRING":
		ref.Name = "Edm.GeometryLineString"
	case "POLYGON":
		ref.Name = "Edm.GeometryPolygon"
	case "MULTIPOINT":
		ref.Name = "Edm.GeometryMultiPoint"
	case "MULTILINESTRING":
		ref.Name = "Edm.GeometryMultiLineString"
	case "MULTIPOLYGON":
		ref.Name = "Edm.GeometryMultiPolygon"
	case "GEOMETRY", "GEOMETRYCOLLECTION":
		ref.Name = "Edm.GeometryCollection"
	default:
		ref.Name = string(String)
	}
	return ref
}

// sizeSpec extracts (length, scale) from a type spec like "decimal(10,2)".
func sizeSpec(columnType string) (int, int, bool) {
	typeSpec := strings.TrimSpace(columnType)
	start := strings.Index(typeSpec, "(")
	end := strings.Index(typeSpec, ")")
	if start == -1 || end == -1 || end <= start+1 {
		return 0, 0, false
	}
	parts := strings.SplitN(typeSpec[start+1:end], ",", 2)
	length, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	scale := 0
	if len(parts) == 2 {
		scale, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, false
		}
	}
	return length, scale, true
}
