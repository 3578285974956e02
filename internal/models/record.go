package models

// Keys and reference values of the canonical record shape.
const (
	// OsduDataKey holds the domain payload inside Record.Data; schema validation runs
	// against this value only.
	OsduDataKey = "osdu"

	ResourceIDKey                      = "ResourceID"
	ResourceTypeIDKey                  = "ResourceTypeID"
	ResourceHomeRegionIDKey            = "ResourceHomeRegionID"
	ResourceHostRegionIDsKey           = "ResourceHostRegionIDs"
	ResourceObjectCreationDateTimeKey  = "ResourceObjectCreationDateTime"
	ResourceVersionCreationDateTimeKey = "ResourceVersionCreationDateTime"
	ResourceCurationStatusKey          = "ResourceCurationStatus"
	ResourceLifecycleStatusKey         = "ResourceLifecycleStatus"
	ResourceSecurityClassificationKey  = "ResourceSecurityClassification"
	DataKey                            = "Data"

	CurationStatusCreated   = "srn:reference-data/ResourceCurationStatus:CREATED:"
	LifecycleStatusReceived = "srn:reference-data/ResourceLifecycleStatus:RECEIVED:"
	LifecycleStatusFailed   = "srn:reference-data/ResourceLifecycleStatus:FAILED:"

	DefaultOwnersGroup  = "data.default.owners"
	DefaultViewersGroup = "data.default.viewers"
)

// Acl lists the group emails allowed to own and view a record.
type Acl struct {
	Owners  []string `firestore:"owners" json:"owners"`
	Viewers []string `firestore:"viewers" json:"viewers"`
}

// Legal carries the legal tags a record is released under.
type Legal struct {
	LegalTags                  []string `firestore:"legaltags" json:"legaltags"`
	OtherRelevantDataCountries []string `firestore:"otherRelevantDataCountries" json:"otherRelevantDataCountries"`
	Status                     string   `firestore:"status,omitempty" json:"status,omitempty"`
}

// Record is a persisted entity as the record store sees it.
type Record struct {
	ID    string         `firestore:"id" json:"id"`
	Kind  string         `firestore:"kind" json:"kind"`
	Acl   Acl            `firestore:"acl" json:"acl"`
	Legal Legal          `firestore:"legal" json:"legal"`
	Data  map[string]any `firestore:"data" json:"data"`
}

// Payload returns the domain payload stored under OsduDataKey, or nil.
func (r Record) Payload() map[string]any {
	payload, _ := r.Data[OsduDataKey].(map[string]any)
	return payload
}

// SchemaDescriptor is the kind and JSON schema registered for a resource type id.
type SchemaDescriptor struct {
	ResourceTypeID string `firestore:"typeId" json:"typeId" yaml:"typeId"`
	Kind           string `firestore:"kind" json:"kind" yaml:"kind"`
	Schema         []byte `firestore:"schema" json:"schema" yaml:"-"`
}
