// Package seed loads lab lookup rows (people, rigs, subjects, photostim
// devices, catalog probe types) from a YAML fixture.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
	"ephyspipe/internal/service"
)

type Fixture struct {
	Persons []struct {
		Username string `yaml:"username"`
		Fullname string `yaml:"fullname"`
	} `yaml:"persons"`
	Rigs []struct {
		Rig         string `yaml:"rig"`
		Room        string `yaml:"room"`
		Description string `yaml:"description"`
	} `yaml:"rigs"`
	Subjects []struct {
		SubjectID   string `yaml:"subject_id"`
		Username    string `yaml:"username"`
		CageNumber  int    `yaml:"cage_number"`
		DateOfBirth string `yaml:"date_of_birth"`
		Sex         string `yaml:"sex"`
	} `yaml:"subjects"`
	PhotostimDevices []struct {
		Device      string  `yaml:"device"`
		Wavelength  float64 `yaml:"excitation_wavelength"`
		Description string  `yaml:"description"`
	} `yaml:"photostim_devices"`
	ProbeTypes []string `yaml:"probe_types"`
}

type Counts struct {
	Persons          int
	Rigs             int
	Subjects         int
	PhotostimDevices int
	ProbeTypes       int
}

func Parse(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return &f, nil
}

func LoadFile(path string) (*Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Parse(fh)
}

// Apply upserts every row of f. Re-applying the same fixture is a no-op.
func Apply(ctx context.Context, repo repository.LabRepository, f *Fixture, logger *zap.Logger) (Counts, error) {
	var n Counts
	if f == nil {
		return n, nil
	}
	for _, p := range f.Persons {
		if err := repo.UpsertPerson(ctx, &models.Person{Username: p.Username, Fullname: p.Fullname}); err != nil {
			return n, fmt.Errorf("person %s: %w", p.Username, err)
		}
		n.Persons++
	}
	for _, r := range f.Rigs {
		if err := repo.UpsertRig(ctx, &models.Rig{Rig: r.Rig, Room: r.Room, RigDescription: r.Description}); err != nil {
			return n, fmt.Errorf("rig %s: %w", r.Rig, err)
		}
		n.Rigs++
	}
	for _, s := range f.Subjects {
		item := &models.Subject{
			SubjectID:   s.SubjectID,
			CageNumber:  s.CageNumber,
			DateOfBirth: s.DateOfBirth,
			Sex:         s.Sex,
		}
		if item.Sex == "" {
			item.Sex = "Unknown"
		}
		if s.Username != "" {
			u := s.Username
			item.Username = &u
		}
		if err := repo.UpsertSubject(ctx, item); err != nil {
			return n, fmt.Errorf("subject %s: %w", s.SubjectID, err)
		}
		n.Subjects++
	}
	for _, d := range f.PhotostimDevices {
		item := &models.PhotostimDevice{
			PhotostimDevice:            d.Device,
			ExcitationWavelength:       decimal.NewFromFloat(d.Wavelength).Round(1),
			PhotostimDeviceDescription: d.Description,
		}
		if err := repo.UpsertPhotostimDevice(ctx, item); err != nil {
			return n, fmt.Errorf("photostim device %s: %w", d.Device, err)
		}
		n.PhotostimDevices++
	}
	for _, pt := range f.ProbeTypes {
		created, err := service.EnsureCatalogProbeType(ctx, repo, pt)
		if err != nil {
			return n, err
		}
		if created {
			n.ProbeTypes++
		}
	}
	if logger != nil {
		logger.Info("seed applied",
			zap.Int("persons", n.Persons),
			zap.Int("rigs", n.Rigs),
			zap.Int("subjects", n.Subjects),
			zap.Int("photostim_devices", n.PhotostimDevices),
			zap.Int("probe_types", n.ProbeTypes))
	}
	return n, nil
}
