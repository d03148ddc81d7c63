package edmtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromSQL_IntegerTypes(t *testing.T) {
	tests := []struct {
		dataType   string
		columnType string
		want       Primitive
	}{
		{"tinyint", "tinyint(1)", Boolean},
		{"tinyint", "tinyint(4)", SByte},
		{"tinyint", "tinyint(3) unsigned", Byte},
		{"smallint", "smallint(6)", Int16},
		{"int", "int(11)", Int32},
		{"int", "int(10) unsigned", Int64},
		{"BIGINT", "bigint(20)", Int64},
	}
	for _, tt := range tests {
		t.Run(tt.columnType, func(t *testing.T) {
			ref := FromSQL(tt.dataType, tt.columnType, true)
			assert.Equal(t, string(tt.want), ref.Name)
		})
	}
}

func TestFromSQL_Facets(t *testing.T) {
	ref := FromSQL("decimal", "decimal(10,2)", false)
	assert.Equal(t, string(Decimal), ref.Name)
	assert.False(t, ref.Facets.Nullable)
	if assert.NotNil(t, ref.Facets.Precision) && assert.NotNil(t, ref.Facets.Scale) {
		assert.Equal(t, 10, *ref.Facets.Precision)
		assert.Equal(t, 2, *ref.Facets.Scale)
	}

	ref = FromSQL("varchar", "varchar(255)", true)
	assert.Equal(t, string(String), ref.Name)
	if assert.NotNil(t, ref.Facets.MaxLength) {
		assert.Equal(t, 255, *ref.Facets.MaxLength)
	}

	ref = FromSQL("text", "text", true)
	assert.Nil(t, ref.Facets.MaxLength)

	ref = FromSQL("datetime", "datetime(6)", true)
	assert.Equal(t, string(DateTimeOffset), ref.Name)
	if assert.NotNil(t, ref.Facets.Precision) {
		assert.Equal(t, 6, *ref.Facets.Precision)
	}
}

func TestFromSQL_SpatialAndFallback(t *testing.T) {
	assert.Equal(t, "Edm.GeometryPoint", FromSQL("point", "point", true).Name)
	assert.True(t, Primitive(FromSQL("polygon", "polygon", true).Name).IsSpatial())
	assert.Equal(t, string(String), FromSQL("json", "json", true).Name)
	assert.Equal(t, string(String), FromSQL("mystery", "", true).Name)
}
