package propar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogue(t *testing.T) {
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)

	e, ok := cat.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, "setpoint", e.ParmName)
	assert.Equal(t, uint8(1), e.ProcNr)
	assert.Equal(t, uint8(1), e.ParmNr)
	assert.Equal(t, BSInt16, e.ParmType)

	e, ok = cat.Lookup(48)
	require.True(t, ok)
	assert.Equal(t, SInt16, e.ParmType)

	e, ok = cat.Lookup(97)
	require.True(t, ok)
	assert.Equal(t, Int32, e.ParmType)
	assert.Equal(t, uint8(97), e.ProcNr)

	e, ok = cat.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, String, e.ParmType)
	assert.Equal(t, 20, e.ParmSize)
	assert.Equal(t, uint8(1), e.ProcNr, "missing process defaults to 1")
}

func TestCatalogueSharedAddress(t *testing.T) {
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)

	entries := cat.LookupByAddress(1, 3)
	require.Len(t, entries, 2)
	ddes := map[int]bool{entries[0].DDENr: true, entries[1].DDENr: true}
	assert.True(t, ddes[21])
	assert.True(t, ddes[22])
}

func TestCatalogueAnnotate(t *testing.T) {
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)

	d := &Descriptor{ProcNr: 1, ParmNr: 1, ParmType: Int16, Data: int64(0xA3D7)}
	cat.Annotate(d)
	assert.Equal(t, 9, d.DDENr)
	assert.Equal(t, "setpoint", d.ParmName)
	assert.Equal(t, BSInt16, d.ParmType)
	assert.EqualValues(t, -23593, d.Data)
}

func TestCatalogueAnnotateUnknownAddressIsNoOp(t *testing.T) {
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)

	d := &Descriptor{ProcNr: 5, ParmNr: 5, ParmType: Int16, Data: int64(7)}
	cat.Annotate(d)
	assert.Equal(t, 0, d.DDENr)
	assert.EqualValues(t, 7, d.Data)
}

func TestCatalogueLookupDeviceType(t *testing.T) {
	cat, err := LoadCatalogue("testdata/catalogue.json")
	require.NoError(t, err)

	assert.Equal(t, "mass flow controller", cat.LookupDeviceType(3))
	assert.Equal(t, "", cat.LookupDeviceType(200))
}
