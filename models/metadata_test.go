package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasAttributeIsCaseInsensitive(t *testing.T) {
	meta := Metadata{
		Name: "item",
		Attributes: []Trait{
			{TraitType: "Tier", Value: "Gold"},
			{TraitType: "background", Value: "blue"},
		},
	}
	require.True(t, meta.HasAttribute("tier", "gold"))
	require.True(t, meta.HasAttribute("BACKGROUND", "Blue"))
	require.False(t, meta.HasAttribute("tier", "silver"))
	require.False(t, meta.HasAttribute("size", "gold"))
}

func TestMetadataValidate(t *testing.T) {
	require.Error(t, Metadata{}.Validate())
	require.Error(t, Metadata{Name: "x", Attributes: []Trait{{Value: "gold"}}}.Validate())
	require.NoError(t, Metadata{Name: "x", Attributes: []Trait{{TraitType: "tier", Value: "gold"}}}.Validate())
}

func TestMetadataScansStoredJSON(t *testing.T) {
	var meta Metadata
	err := meta.Scan(`{"name":"item","attributes":[{"trait_type":"tier","value":"gold"}]}`)
	require.NoError(t, err)
	require.Equal(t, "item", meta.Name)
	require.True(t, meta.HasAttribute("tier", "gold"))

	require.NoError(t, meta.Scan(nil))
	require.Empty(t, meta.Name)

	require.Error(t, meta.Scan(42))
}
