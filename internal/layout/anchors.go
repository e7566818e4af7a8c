/**
 * Anchor configuration
 *
 * Each field is located by label phrases printed on the form ("DATE OF BAPTISM")
 * and a search zone relative to the matched label.
 */

package layout

// Direction the search zone extends from the anchor
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Valid reports whether d is one of the four directions
func (d Direction) Valid() bool {
	switch d {
	case DirectionAbove, DirectionBelow, DirectionLeft, DirectionRight:
		return true
	}
	return false
}

// ZonePadding insets each side of the zone, as fractions of the entry area
type ZonePadding struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// ZoneExtent is the zone size, as fractions of the entry area
type ZoneExtent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AnchorConfig locates one field
type AnchorConfig struct {
	Phrases     []string    `json:"phrases"`
	Direction   Direction   `json:"direction"`
	ZonePadding ZonePadding `json:"zonePadding"`
	ZoneExtent  ZoneExtent  `json:"zoneExtent"`
}

func (c AnchorConfig) clone() AnchorConfig {
	out := c
	out.Phrases = append([]string(nil), c.Phrases...)
	return out
}

// FieldAnchor binds a config to its field key
type FieldAnchor struct {
	Key string `json:"key"`
	AnchorConfig
}

// AnchorSet is an ordered list of field anchors; order decides table columns
// when entries disagree and is kept stable across resolution
type AnchorSet []FieldAnchor

// Get returns the config for key
func (s AnchorSet) Get(key string) (AnchorConfig, bool) {
	for _, f := range s {
		if f.Key == key {
			return f.AnchorConfig, true
		}
	}
	return AnchorConfig{}, false
}

// Keys in configured order
func (s AnchorSet) Keys() []string {
	keys := make([]string, len(s))
	for i, f := range s {
		keys[i] = f.Key
	}
	return keys
}

func (s AnchorSet) clone() AnchorSet {
	out := make(AnchorSet, len(s))
	for i, f := range s {
		out[i] = FieldAnchor{Key: f.Key, AnchorConfig: f.AnchorConfig.clone()}
	}
	return out
}

var (
	belowPadding = ZonePadding{Top: 0.005}
	rightPadding = ZonePadding{Left: 0.01}
)

func below(width, height float64, phrases ...string) AnchorConfig {
	return AnchorConfig{
		Phrases:     phrases,
		Direction:   DirectionBelow,
		ZonePadding: belowPadding,
		ZoneExtent:  ZoneExtent{Width: width, Height: height},
	}
}

func right(width, height float64, phrases ...string) AnchorConfig {
	return AnchorConfig{
		Phrases:     phrases,
		Direction:   DirectionRight,
		ZonePadding: rightPadding,
		ZoneExtent:  ZoneExtent{Width: width, Height: height},
	}
}

var defaultAnchors = map[string]AnchorSet{
	"baptism": {
		{"record_number", right(0.1, 0.05, "RECORD NO", "PARISH RECORD", "NUMBER", "NO")},
		{"child_name", below(0.3, 0.1, "NAME OF CHILD", "CHILD'S NAME", "FULL NAME OF CHILD", "CHILD")},
		{"date_of_birth", below(0.25, 0.1, "DATE OF BIRTH", "BIRTH DATE", "BORN")},
		{"place_of_birth", below(0.3, 0.1, "PLACE OF BIRTH", "BIRTHPLACE", "CITY OF BIRTH", "BORN IN")},
		{"father_name", below(0.4, 0.1, "FATHER'S NAME", "NAME OF FATHER", "FATHER")},
		{"mother_name", below(0.4, 0.1, "MOTHER'S NAME", "NAME OF MOTHER", "MOTHER'S MAIDEN NAME", "MOTHER")},
		{"parents_name", below(0.4, 0.12, "NAME OF PARENTS", "NAMES OF PARENTS", "PARENTS")},
		{"address", below(0.4, 0.1, "ADDRESS", "RESIDENCE")},
		{"date_of_baptism", below(0.3, 0.1, "DATE OF BAPTISM", "BAPTISM DATE", "BAPTIZED", "RECEPTION DATE")},
		{"godparents", below(0.45, 0.12, "FULL NAMES OF SPONSORS", "NAMES OF SPONSORS", "SPONSORS", "GODPARENTS", "GOD PARENTS")},
		{"performed_by", right(1.0, 0.05, "PRIEST'S NAME", "PRIEST NAME", "SACRAMENTS PERFORMED BY", "PERFORMED BY", "PRIEST", "CLERGY")},
		{"notes", below(0.5, 0.12, "NOTES", "REMARKS")},
	},
	"marriage": {
		{"record_number", right(0.1, 0.05, "RECORD NO", "PARISH RECORD", "NUMBER", "NO")},
		{"date_of_marriage", below(0.3, 0.1, "DATE OF MARRIAGE", "MARRIAGE DATE", "DATE OF WEDDING")},
		{"groom_name", below(0.4, 0.1, "NAME OF GROOM", "GROOM'S NAME", "BRIDEGROOM", "GROOM")},
		{"bride_name", below(0.4, 0.1, "NAME OF BRIDE", "BRIDE'S NAME", "BRIDE")},
		{"place_of_marriage", below(0.4, 0.1, "PLACE OF MARRIAGE", "CHURCH")},
		{"witnesses", below(0.45, 0.12, "WITNESSES", "BEST MAN", "KOUMBAROS", "SPONSORS")},
		{"officiant", below(0.3, 0.1, "OFFICIANT", "OFFICIATING PRIEST", "PERFORMED BY", "PRIEST", "CLERGY")},
		{"notes", below(0.5, 0.12, "NOTES", "REMARKS")},
	},
	"funeral": {
		{"record_number", right(0.1, 0.05, "RECORD NO", "PARISH RECORD", "NUMBER", "NO")},
		{"deceased_name", below(0.4, 0.1, "NAME OF DECEASED", "DECEASED", "NAME OF THE DEPARTED")},
		{"date_of_death", below(0.25, 0.1, "DATE OF DEATH", "DATE OF REPOSE", "DIED")},
		{"date_of_funeral", below(0.25, 0.1, "DATE OF FUNERAL", "FUNERAL DATE")},
		{"date_of_burial", below(0.25, 0.1, "DATE OF BURIAL", "BURIAL DATE", "BURIED")},
		{"place_of_burial", below(0.4, 0.1, "PLACE OF BURIAL", "CEMETERY")},
		{"age_at_death", right(0.1, 0.05, "AGE AT DEATH", "AGE")},
		{"cause_of_death", below(0.4, 0.1, "CAUSE OF DEATH")},
		{"next_of_kin", below(0.45, 0.12, "NEXT OF KIN", "SURVIVED BY")},
		{"officiant", below(0.3, 0.1, "OFFICIANT", "PERFORMED BY", "PRIEST", "CLERGY")},
		{"notes", below(0.5, 0.12, "NOTES", "REMARKS")},
	},
}

// DefaultAnchors returns a copy of the built-in anchors for a record type,
// or an empty set for unknown types
func DefaultAnchors(recordType string) AnchorSet {
	set, ok := defaultAnchors[recordType]
	if !ok {
		return AnchorSet{}
	}
	return set.clone()
}
