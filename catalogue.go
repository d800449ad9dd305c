package propar

import (
	"encoding/json"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// CatalogueEntry is one row of the parameter catalogue: the mapping
// between a human DDE number and its wire address.
type CatalogueEntry struct {
	DDENr    int
	ParmName string
	ProcNr   uint8
	ParmNr   uint8
	ParmType ParmType
	ParmSize int
}

type procParmKey struct {
	proc uint8
	parm uint8
}

type enumValue struct {
	value       int
	description string
}

// Catalogue is the in-memory lookup built from the vendor's JSON
// parameter table: DDE number -> descriptor, and (proc, parm) ->
// descriptor list, since several DDE numbers may share one wire address.
type Catalogue struct {
	byDDE      map[int]CatalogueEntry
	byAddress  map[procParmKey][]CatalogueEntry
	byDDEValue map[int][]enumValue
}

// catalogueFile mirrors the two top-level fields of the JSON document.
type catalogueFile struct {
	AllParameters []catalogueRecord `json:"allparameters"`
	ParValue      []parValueRecord  `json:"parvalue"`
}

// catalogueRecord is one row of "allparameters". Only the fields the
// loader consumes are named; the rest (group0..2, poll, default,
// description, ...) are descriptive and carried by nobody.
type catalogueRecord struct {
	Parameter int      `json:"parameter"`
	LongName  string   `json:"longname"`
	Process   *int     `json:"process"`
	FBNr      int      `json:"fbnr"`
	VarType   string   `json:"vartype"`
	Min       *float64 `json:"min"`
	VarLength string   `json:"varlength"`
}

type parValueRecord struct {
	Parameter   int    `json:"parameter"`
	Value       int    `json:"value"`
	Description string `json:"description"`
}

// LoadCatalogue reads and indexes the JSON catalogue file at path.
func LoadCatalogue(path string) (*Catalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalogue(raw)
}

// ParseCatalogue builds a Catalogue from raw JSON bytes: missing
// process defaults to 1, vartype/min select the semantic type, and a
// non-empty varlength means STRING.
func ParseCatalogue(raw []byte) (*Catalogue, error) {
	var file catalogueFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}

	cat := &Catalogue{
		byDDE:      make(map[int]CatalogueEntry, len(file.AllParameters)),
		byAddress:  make(map[procParmKey][]CatalogueEntry),
		byDDEValue: make(map[int][]enumValue, len(file.ParValue)),
	}

	for _, rec := range file.AllParameters {
		proc := 1
		if rec.Process != nil {
			proc = *rec.Process
		}
		pt, size := classifyRecord(rec)
		entry := CatalogueEntry{
			DDENr:    rec.Parameter,
			ParmName: rec.LongName,
			ProcNr:   uint8(proc),
			ParmNr:   uint8(rec.FBNr),
			ParmType: pt,
			ParmSize: size,
		}
		cat.byDDE[entry.DDENr] = entry
		key := procParmKey{proc: entry.ProcNr, parm: entry.ParmNr}
		cat.byAddress[key] = append(cat.byAddress[key], entry)
	}

	for _, v := range file.ParValue {
		cat.byDDEValue[v.Parameter] = append(cat.byDDEValue[v.Parameter], enumValue{value: v.Value, description: v.Description})
	}

	log.Debugf("[CATALOGUE] loaded %d parameters, %d enumerations", len(cat.byDDE), len(file.ParValue))
	return cat, nil
}

// classifyRecord maps a record's vartype/min/varlength fields onto a
// semantic ParmType and byte size.
func classifyRecord(rec catalogueRecord) (ParmType, int) {
	if rec.VarLength != "" {
		size, err := strconv.Atoi(rec.VarLength)
		if err != nil {
			size = 0
		}
		return String, size
	}
	switch rec.VarType {
	case "c":
		return Int8, 1
	case "l":
		return Int32, 4
	case "f":
		return Float, 4
	case "i":
		if rec.Min != nil {
			switch *rec.Min {
			case -32767:
				return SInt16, 2
			case -23593:
				return BSInt16, 2
			}
		}
		return Int16, 2
	default:
		return Int16, 2
	}
}

// Lookup resolves a DDE number to its catalogue entry.
func (c *Catalogue) Lookup(dde int) (CatalogueEntry, bool) {
	e, ok := c.byDDE[dde]
	return e, ok
}

// LookupByAddress resolves a wire (proc, parm) pair to every DDE entry
// that shares it.
func (c *Catalogue) LookupByAddress(proc, parm uint8) []CatalogueEntry {
	return c.byAddress[procParmKey{proc: proc, parm: parm}]
}

// Annotate repairs and names a decoded descriptor in place, using the
// catalogue's (proc, parm) index as the schema a solicited read would
// otherwise have supplied. Used for unsolicited broadcast frames, which
// carry no DDE/type hints of their own. Descriptors whose address is
// unknown to the catalogue are left as decoded (wire types only).
func (c *Catalogue) Annotate(d *Descriptor) {
	entries := c.LookupByAddress(d.ProcNr, d.ParmNr)
	if len(entries) == 0 {
		return
	}
	e := entries[0]
	if d.DDENr == 0 {
		d.DDENr = e.DDENr
	}
	if d.ParmName == "" {
		d.ParmName = e.ParmName
	}
	repairType(d, e.ParmType)
}

// LookupDeviceType resolves a device-type byte (the first byte of an
// instrument's identification string) against the DDE 175 enumeration,
// the fallback used by GetNodes when proc=113/parm=1 isn't available.
func (c *Catalogue) LookupDeviceType(idByte byte) string {
	for _, v := range c.byDDEValue[175] {
		if v.value == int(idByte) {
			return v.description
		}
	}
	return ""
}
