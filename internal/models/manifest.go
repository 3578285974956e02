package models

import "fmt"

// Keys inside a manifest entity's Data block.
const (
	GroupTypePropertiesKey = "GroupTypeProperties"
	StagingFilePathKey     = "StagingFilePath"
	OriginalFilePathKey    = "OriginalFilePath"
	FileSourceKey          = "FileSource"
	ComponentsKey          = "Components"
	FilesKey               = "Files"
)

// LoadManifest is a data delivery: one work product, its components and their files.
// Components reference files by AssociativeID, which is local to the manifest.
type LoadManifest struct {
	WorkProduct           ManifestWp     `json:"WorkProduct" validate:"required"`
	WorkProductComponents []ManifestWpc  `json:"WorkProductComponents" validate:"required,min=1,dive"`
	Files                 []ManifestFile `json:"Files" validate:"dive"`
}

// ManifestWp is the work product entry of a manifest.
type ManifestWp struct {
	ResourceTypeID                 string         `json:"ResourceTypeID" validate:"required,startswith=srn:type:"`
	ResourceSecurityClassification string         `json:"ResourceSecurityClassification,omitempty"`
	Data                           map[string]any `json:"Data" validate:"required"`
}

// ManifestWpc is a work product component entry of a manifest.
type ManifestWpc struct {
	ResourceTypeID                 string         `json:"ResourceTypeID" validate:"required,startswith=srn:type:"`
	ResourceSecurityClassification string         `json:"ResourceSecurityClassification,omitempty"`
	AssociativeID                  string         `json:"AssociativeID" validate:"required"`
	FileAssociativeIDs             []string       `json:"FileAssociativeIDs" validate:"required,min=1,dive,required"`
	Data                           map[string]any `json:"Data" validate:"required"`
}

// ManifestFile is a file entry of a manifest.
type ManifestFile struct {
	ResourceTypeID                 string         `json:"ResourceTypeID" validate:"required,startswith=srn:type:"`
	ResourceSecurityClassification string         `json:"ResourceSecurityClassification,omitempty"`
	AssociativeID                  string         `json:"AssociativeID" validate:"required"`
	Data                           map[string]any `json:"Data" validate:"required"`
}

// StagingFilePath returns Data.GroupTypeProperties.StagingFilePath, the location the raw
// file is fetched from.
func (f ManifestFile) StagingFilePath() string {
	props, _ := f.Data[GroupTypePropertiesKey].(map[string]any)
	path, _ := props[StagingFilePathKey].(string)
	return path
}

// ResolvedComponent is a component with its file references resolved.
type ResolvedComponent struct {
	ManifestWpc
	Files []ManifestFile
}

// ResolvedProduct is the in-memory tree the pipeline walks.
type ResolvedProduct struct {
	ManifestWp
	Components []ResolvedComponent
}

// Resolve turns the flat manifest into a product tree. Every file associative id a
// component names must exist exactly once in Files.
func (m *LoadManifest) Resolve() (*ResolvedProduct, error) {
	fileByID := make(map[string]ManifestFile, len(m.Files))
	for _, f := range m.Files {
		if _, dup := fileByID[f.AssociativeID]; dup {
			return nil, fmt.Errorf("duplicate file associative id %q", f.AssociativeID)
		}
		fileByID[f.AssociativeID] = f
	}

	seen := make(map[string]bool, len(m.WorkProductComponents))
	components := make([]ResolvedComponent, 0, len(m.WorkProductComponents))
	for _, wpc := range m.WorkProductComponents {
		if seen[wpc.AssociativeID] {
			return nil, fmt.Errorf("duplicate component associative id %q", wpc.AssociativeID)
		}
		seen[wpc.AssociativeID] = true

		files := make([]ManifestFile, 0, len(wpc.FileAssociativeIDs))
		for _, id := range wpc.FileAssociativeIDs {
			f, ok := fileByID[id]
			if !ok {
				return nil, fmt.Errorf("component %q references unknown file %q", wpc.AssociativeID, id)
			}
			files = append(files, f)
		}
		components = append(components, ResolvedComponent{ManifestWpc: wpc, Files: files})
	}

	return &ResolvedProduct{ManifestWp: m.WorkProduct, Components: components}, nil
}
