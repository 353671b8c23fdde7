package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ephyspipe/internal/models"
)

// LabRepository covers lookup tables: people, rigs, subjects, probes and
// content-addressed electrode configurations.
type LabRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	UpsertPerson(ctx context.Context, item *models.Person) error
	UpsertRig(ctx context.Context, item *models.Rig) error
	UpsertSubject(ctx context.Context, item *models.Subject) error
	UpsertPhotostimDevice(ctx context.Context, item *models.PhotostimDevice) error
	ListSubjects(ctx context.Context) ([]models.Subject, error)

	EnsureProbeTypeTx(ctx context.Context, tx *gorm.DB, probeType string, electrodes []models.ProbeTypeElectrode) (bool, error)
	EnsureProbeTx(ctx context.Context, tx *gorm.DB, item *models.Probe) error
	ListProbeTypes(ctx context.Context) ([]models.ProbeType, error)
	ListProbeTypeElectrodesTx(ctx context.Context, tx *gorm.DB, probeType string, electrodes []int) ([]models.ProbeTypeElectrode, error)

	GetElectrodeConfigByHashTx(ctx context.Context, tx *gorm.DB, hash string) (*models.ElectrodeConfig, error)
	CreateElectrodeConfigTx(ctx context.Context, tx *gorm.DB, cfg *models.ElectrodeConfig, group models.ElectrodeConfigGroup, electrodes []models.ElectrodeConfigElectrode) error
	ListElectrodeConfigs(ctx context.Context, params ListElectrodeConfigsParams) ([]models.ElectrodeConfig, error)
	CountElectrodeConfigs(ctx context.Context, params ListElectrodeConfigsParams) (int64, error)
	ListElectrodeConfigElectrodes(ctx context.Context, hash string) ([]models.ElectrodeConfigElectrode, error)
}

// SessionRepository covers sessions, trials and photostim protocols.
type SessionRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	FindSession(ctx context.Context, subjectID, date, clock string) (*models.Session, error)
	GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	NextSessionNumberTx(ctx context.Context, tx *gorm.DB, subjectID string) (int, error)
	CreateSessionTx(ctx context.Context, tx *gorm.DB, sess *models.Session, inserted *models.InsertedSession, files []models.SessionFile) error
	ListInsertedSessions(ctx context.Context, params ListInsertedSessionsParams) ([]models.InsertedSession, error)

	NextTrialUIDTx(ctx context.Context, tx *gorm.DB) (int64, error)
	CreateBehaviorTx(ctx context.Context, tx *gorm.DB, rec BehaviorRecords) error
	HasSessionTrials(ctx context.Context, key models.SessionKey) (bool, error)
	ListSessionTrials(ctx context.Context, key models.SessionKey) ([]models.SessionTrial, error)
	ListSessionTrialsTx(ctx context.Context, tx *gorm.DB, key models.SessionKey) ([]models.SessionTrial, error)
	ListBehaviorTrials(ctx context.Context) ([]models.BehaviorTrial, error)

	ListPhotostimsWithoutRegion(ctx context.Context) ([]models.Photostim, error)
	ListPhotostimLocations(ctx context.Context, key models.PhotostimKey) ([]models.PhotostimLocation, error)
	CreatePhotostimBrainRegion(ctx context.Context, item *models.PhotostimBrainRegion) error
	ListStimEvents(ctx context.Context) ([]StimEvent, error)

	CreateTrackingIngestionTx(ctx context.Context, tx *gorm.DB, item *models.TrackingIngestion, devices []models.TrackingDevice, files []models.TrackingFile) error
	ListTrackingFiles(ctx context.Context, key models.SessionKey) ([]models.TrackingFile, error)
}

// EphysRepository covers probe insertions, clustering runs, units and the
// statistics derived from them.
type EphysRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	NextUnitUIDTx(ctx context.Context, tx *gorm.DB) (int64, error)
	CreateInsertionTx(ctx context.Context, tx *gorm.DB, rec InsertionRecords) error
	ListInsertions(ctx context.Context, params ListInsertionsParams) ([]models.ProbeInsertion, error)
	CountInsertions(ctx context.Context, params ListInsertionsParams) (int64, error)
	HasInsertions(ctx context.Context, key models.SessionKey) (bool, error)
	GetRecordingSetup(ctx context.Context, key models.InsertionKey) (*models.RecordingSystemSetup, error)

	ListClusteringsWithoutTrialSpikes(ctx context.Context) ([]models.Clustering, error)
	ListUnits(ctx context.Context, params ListUnitsParams) ([]models.Unit, error)
	CountUnits(ctx context.Context, params ListUnitsParams) (int64, error)
	ListUnitsTx(ctx context.Context, tx *gorm.DB, key models.ClusteringKey) ([]models.Unit, error)
	GetUnitByUID(ctx context.Context, uid int64) (*models.Unit, error)
	GetUnitWaveform(ctx context.Context, uid int64) (*models.UnitWaveform, error)

	CreateTrialSpikesTx(ctx context.Context, tx *gorm.DB, items []models.TrialSpikes) error
	ListTrialSpikeTrains(ctx context.Context, uid int64) ([]TrialSpikeTrain, error)
	ListTrialSpikes(ctx context.Context, uid int64, trials []models.TrialKey) ([]models.TrialSpikes, error)

	ListInsertionsWithoutStats(ctx context.Context) ([]models.ProbeInsertion, error)
	ReplaceUnitStatsTx(ctx context.Context, tx *gorm.DB, items []models.UnitStat) error
	GetUnitStat(ctx context.Context, uid int64) (*models.UnitStat, error)

	ListUnitsWithoutCellType(ctx context.Context, limit int) ([]models.Unit, error)
	CreateUnitCellType(ctx context.Context, item *models.UnitCellType) error
	GetUnitCellType(ctx context.Context, uid int64) (*models.UnitCellType, error)
}

// PsthRepository covers trial conditions and per-unit PSTHs.
type PsthRepository interface {
	EnsureTrialCondition(ctx context.Context, item *models.TrialCondition) (*models.TrialCondition, error)
	GetTrialCondition(ctx context.Context, name string) (*models.TrialCondition, error)
	ListTrialConditions(ctx context.Context) ([]models.TrialCondition, error)
	ListPsthCandidates(ctx context.Context, params PsthCandidateParams) ([]int64, error)
	CreateUnitPsth(ctx context.Context, item *models.UnitPsth) error
	GetUnitPsth(ctx context.Context, condition string, uid int64) (*models.UnitPsth, error)
}

// JobRepository backs the table-based job reservation.
type JobRepository interface {
	ReserveJob(ctx context.Context, job *models.Job, retryAfter time.Duration) (bool, error)
	DeleteJob(ctx context.Context, target, keyHash, owner string) error
	FailJob(ctx context.Context, target, keyHash, owner, message string) error
	ListJobs(ctx context.Context, params ListJobsParams) ([]models.Job, error)
	CountJobs(ctx context.Context, params ListJobsParams) (int64, error)
}

type Repository interface {
	LabRepository
	SessionRepository
	EphysRepository
	PsthRepository
	JobRepository
	Ping(ctx context.Context) error
}

// BehaviorRecords is everything one behavior load produces for a session.
type BehaviorRecords struct {
	Trials             []models.SessionTrial
	BehaviorTrials     []models.BehaviorTrial
	Photostims         []models.Photostim
	PhotostimLocations []models.PhotostimLocation
	PhotostimTrials    []models.PhotostimTrial
	PhotostimEvents    []models.PhotostimEvent
}

// InsertionRecords is everything one probe insertion produces. Units and
// Waveforms are co-indexed.
type InsertionRecords struct {
	Insertion   models.ProbeInsertion
	Setup       models.RecordingSystemSetup
	Clustering  models.Clustering
	Units       []models.Unit
	Waveforms   []models.UnitWaveform
	Files       []models.EphysFile
	TrialSpikes []models.TrialSpikes
}

// TrialSpikeTrain is one TrialSpikes row joined with its trial interval.
type TrialSpikeTrain struct {
	Trial      int
	SpikeTimes []float64
	StartTime  decimal.Decimal
	StopTime   decimal.Decimal
}

// StimEvent is a photostim event joined with its protocol and derived brain
// region, the record set stim-aware trial conditions select from.
type StimEvent struct {
	SubjectID          string
	Session            int
	Trial              int
	PhotostimEventID   int
	PhotoStim          int
	PhotostimDevice    string
	Power              decimal.Decimal
	PulseDuration      *decimal.Decimal
	PulseFrequency     *decimal.Decimal
	PulsesPerTrain     *int
	PhotostimEventTime decimal.Decimal
	StimBrainArea      string
	StimLaterality     string
}

type ListElectrodeConfigsParams struct {
	Limit     int
	Offset    int
	ProbeType *string
}

type ListInsertedSessionsParams struct {
	SubjectID  *string
	LoaderName *string
	// WithoutEphys keeps only sessions that have no probe insertion yet.
	WithoutEphys bool
	// WithoutTrials keeps only sessions that have no trial rows yet.
	WithoutTrials bool
	// WithoutTracking keeps only sessions not yet scanned for tracking files.
	WithoutTracking bool
}

type ListInsertionsParams struct {
	Limit     int
	Offset    int
	SubjectID *string
	Session   *int
	Probe     *string
}

type ListUnitsParams struct {
	Limit          int
	Offset         int
	Insertion      *models.InsertionKey
	Quality        *string
	ExcludeQuality *string
	OrderBy        string
	Asc            *bool
}

type PsthCandidateParams struct {
	Condition string
	// RequireStimRegion restricts to units of sessions with a derived
	// photostim brain region.
	RequireStimRegion bool
	Limit             int
}

type ListJobsParams struct {
	Limit  int
	Offset int
	Target *string
	Status *string
}
