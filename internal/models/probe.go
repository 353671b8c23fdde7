package models

// ProbeType is a probe model family; its electrodes are generated once from
// the geometry catalog.
type ProbeType struct {
	ProbeType string `gorm:"primaryKey;type:varchar(32)"`
}

func (ProbeType) TableName() string {
	return "lab_probe_type"
}

type ProbeTypeElectrode struct {
	ProbeType string   `gorm:"primaryKey;type:varchar(32)"`
	Electrode int      `gorm:"primaryKey;autoIncrement:false;comment:electrode index, starts at 1"`
	Shank     int      `gorm:"not null;comment:shank index, starts at 1"`
	ShankCol  int      `gorm:"not null;comment:column index, starts at 1"`
	ShankRow  int      `gorm:"not null;comment:row index, starts at 1, tip to tail"`
	XCoord    *float64 `gorm:"column:x_coord;comment:(um)"`
	YCoord    *float64 `gorm:"column:y_coord;comment:(um)"`
	ZCoord    float64  `gorm:"column:z_coord;not null;default:0;comment:(um)"`
}

func (ProbeTypeElectrode) TableName() string {
	return "lab_probe_type_electrode"
}

// Probe is one physical probe (part/serial number).
type Probe struct {
	Probe        string `gorm:"primaryKey;type:varchar(32)"`
	ProbeType    string `gorm:"type:varchar(32);not null;index"`
	ProbeComment string `gorm:"type:varchar(1000)"`
}

func (Probe) TableName() string {
	return "lab_probe"
}

// ElectrodeConfig is a content-addressed set of electrodes recorded together.
// The hash is the identity; the name is a display label derived from index ranges.
type ElectrodeConfig struct {
	ID                  uint64 `gorm:"primaryKey;autoIncrement"`
	ProbeType           string `gorm:"type:varchar(32);not null;index"`
	ElectrodeConfigName string `gorm:"type:varchar(2000);not null"`
	ElectrodeConfigHash string `gorm:"type:varchar(36);not null;uniqueIndex"`
}

func (ElectrodeConfig) TableName() string {
	return "lab_electrode_config"
}

func (c ElectrodeConfig) Key() ElectrodeConfigKey {
	return ElectrodeConfigKey{ProbeType: c.ProbeType, Name: c.ElectrodeConfigName, Hash: c.ElectrodeConfigHash}
}

type ElectrodeConfigKey struct {
	ProbeType string
	Name      string
	Hash      string
}

type ElectrodeConfigGroup struct {
	ElectrodeConfigHash string `gorm:"primaryKey;type:varchar(36)"`
	ElectrodeGroup      int    `gorm:"primaryKey;autoIncrement:false"`
}

func (ElectrodeConfigGroup) TableName() string {
	return "lab_electrode_config_group"
}

type ElectrodeConfigElectrode struct {
	ElectrodeConfigHash string `gorm:"primaryKey;type:varchar(36)"`
	ElectrodeGroup      int    `gorm:"primaryKey;autoIncrement:false"`
	Electrode           int    `gorm:"primaryKey;autoIncrement:false"`
	ProbeType           string `gorm:"type:varchar(32);not null"`
	IsUsed              bool   `gorm:"not null;comment:used for spatial average (reference channels are not)"`
}

func (ElectrodeConfigElectrode) TableName() string {
	return "lab_electrode_config_electrode"
}
