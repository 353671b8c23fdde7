package models

import "github.com/shopspring/decimal"

type Person struct {
	Username string `gorm:"primaryKey;type:varchar(24)"`
	Fullname string `gorm:"type:varchar(255);not null"`
}

func (Person) TableName() string {
	return "lab_person"
}

type Rig struct {
	Rig            string `gorm:"primaryKey;type:varchar(24)"`
	Room           string `gorm:"type:varchar(20);comment:e.g. 2w.342"`
	RigDescription string `gorm:"type:varchar(1024)"`
}

func (Rig) TableName() string {
	return "lab_rig"
}

type Subject struct {
	SubjectID   string  `gorm:"primaryKey;type:varchar(10)"`
	Username    *string `gorm:"type:varchar(24);comment:person responsible for the animal"`
	CageNumber  int     `gorm:"not null"`
	DateOfBirth string  `gorm:"type:varchar(10);comment:yyyy-mm-dd"`
	Sex         string  `gorm:"type:varchar(8);not null;default:Unknown"`
}

func (Subject) TableName() string {
	return "lab_subject"
}

type PhotostimDevice struct {
	PhotostimDevice            string          `gorm:"primaryKey;type:varchar(20)"`
	ExcitationWavelength       decimal.Decimal `gorm:"type:numeric(5,1);comment:(nm)"`
	PhotostimDeviceDescription string          `gorm:"type:varchar(255)"`
}

func (PhotostimDevice) TableName() string {
	return "lab_photostim_device"
}
