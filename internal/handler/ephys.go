package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
	"ephyspipe/internal/service"
	"ephyspipe/internal/trialcond"
)

// EphysHandler serves insertions, units and their derived statistics.
type EphysHandler struct {
	Repo repository.Repository
	Psth *service.PsthService
}

func (h *EphysHandler) Register(r gin.IRouter) {
	group := r.Group("/api/v1")
	group.GET("/insertions", h.listInsertions)
	group.GET("/insertions/:subject/:session/:insertion/units", h.listUnits)
	group.GET("/units/:uid", h.getUnit)
	group.GET("/units/:uid/stat", h.getUnitStat)
	group.GET("/units/:uid/psth", h.getUnitPsth)
	group.GET("/units/:uid/psth/trials", h.getUnitPsthTrials)
	group.GET("/electrode-configs", h.listElectrodeConfigs)
	group.GET("/electrode-configs/:hash/electrodes", h.listConfigElectrodes)
	group.GET("/trial-conditions", h.listTrialConditions)
	group.GET("/jobs", h.listJobs)
}

// unitView leaves out the per-spike arrays.
type unitView struct {
	SubjectID        string   `json:"subject_id"`
	Session          int      `json:"session"`
	InsertionNumber  int      `json:"insertion_number"`
	ClusteringMethod string   `json:"clustering_method"`
	Unit             int      `json:"unit"`
	UnitUID          int64    `json:"unit_uid"`
	UnitQuality      string   `json:"unit_quality"`
	Electrode        int      `json:"electrode"`
	UnitPosX         float64  `json:"unit_posx"`
	UnitPosY         float64  `json:"unit_posy"`
	UnitAmp          float64  `json:"unit_amp"`
	UnitSNR          *float64 `json:"unit_snr"`
	SpikeCount       int      `json:"spike_count"`
	CellType         string   `json:"cell_type,omitempty"`
}

func newUnitView(u models.Unit) unitView {
	return unitView{
		SubjectID:        u.SubjectID,
		Session:          u.Session,
		InsertionNumber:  u.InsertionNumber,
		ClusteringMethod: u.ClusteringMethod,
		Unit:             u.Unit,
		UnitUID:          u.UnitUID,
		UnitQuality:      u.UnitQuality,
		Electrode:        u.Electrode,
		UnitPosX:         u.UnitPosX,
		UnitPosY:         u.UnitPosY,
		UnitAmp:          u.UnitAmp,
		UnitSNR:          u.UnitSNR,
		SpikeCount:       len(u.SpikeTimes),
	}
}

func (h *EphysHandler) listInsertions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListInsertionsParams{
		Limit:     limit,
		Offset:    offset,
		SubjectID: strQueryPtr(c, "subject"),
		Probe:     strQueryPtr(c, "probe"),
	}
	if raw := c.Query("session"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid session", nil)
			return
		}
		params.Session = &n
	}
	items, err := h.Repo.ListInsertions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountInsertions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *EphysHandler) listUnits(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	session, err1 := strconv.Atoi(c.Param("session"))
	insertion, err2 := strconv.Atoi(c.Param("insertion"))
	if err1 != nil || err2 != nil {
		Error(c, http.StatusBadRequest, "invalid insertion key", nil)
		return
	}
	key := models.InsertionKey{SubjectID: c.Param("subject"), Session: session, InsertionNumber: insertion}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListUnitsParams{
		Limit:     limit,
		Offset:    offset,
		Insertion: &key,
		Quality:   strQueryPtr(c, "quality"),
		OrderBy:   "unit",
		Asc:       boolPtr(true),
	}
	items, err := h.Repo.ListUnits(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountUnits(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	views := make([]unitView, len(items))
	for i, u := range items {
		views[i] = newUnitView(u)
	}
	Ok(c, views, paginationMeta(limit, offset, total))
}

func (h *EphysHandler) getUnit(c *gin.Context) {
	uid, ok := h.unitUID(c)
	if !ok {
		return
	}
	unit, err := h.Repo.GetUnitByUID(c.Request.Context(), uid)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if unit == nil {
		Error(c, http.StatusNotFound, "unit not found", nil)
		return
	}
	view := newUnitView(*unit)
	if ct, err := h.Repo.GetUnitCellType(c.Request.Context(), uid); err == nil && ct != nil {
		view.CellType = ct.CellType
	}
	Ok(c, view, nil)
}

func (h *EphysHandler) getUnitStat(c *gin.Context) {
	uid, ok := h.unitUID(c)
	if !ok {
		return
	}
	st, err := h.Repo.GetUnitStat(c.Request.Context(), uid)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if st == nil {
		Error(c, http.StatusNotFound, "unit stat not computed", nil)
		return
	}
	Ok(c, gin.H{
		"unit_uid":        st.UnitUID,
		"isi_violation":   st.ISIViolation,
		"avg_firing_rate": st.AvgFiringRate,
		"avg_cv2":         st.AvgCV2,
	}, nil)
}

func (h *EphysHandler) getUnitPsth(c *gin.Context) {
	uid, ok := h.unitUID(c)
	if !ok {
		return
	}
	condition, ok := conditionQuery(c)
	if !ok {
		return
	}
	stored, err := h.Repo.GetUnitPsth(c.Request.Context(), condition, uid)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if stored != nil {
		Ok(c, gin.H{
			"trial_condition_name": condition,
			"unit_uid":             uid,
			"trials":               stored.Trials,
			"psth":                 []float64(stored.Psth),
			"psth_edges":           []float64(stored.PsthEdges),
		}, map[string]any{"stored": true})
		return
	}
	if h.Psth == nil {
		Error(c, http.StatusNotFound, "psth not computed", nil)
		return
	}
	rate, edges, trials, err := h.Psth.Compute(c.Request.Context(), condition, uid)
	if err != nil {
		psthError(c, err)
		return
	}
	Ok(c, gin.H{
		"trial_condition_name": condition,
		"unit_uid":             uid,
		"trials":               trials,
		"psth":                 rate,
		"psth_edges":           edges,
	}, map[string]any{"stored": false})
}

func (h *EphysHandler) getUnitPsthTrials(c *gin.Context) {
	uid, ok := h.unitUID(c)
	if !ok {
		return
	}
	condition, ok := conditionQuery(c)
	if !ok {
		return
	}
	if h.Psth == nil {
		Error(c, http.StatusInternalServerError, "psth service unavailable", nil)
		return
	}
	rates, edges, err := h.Psth.ComputePerTrial(c.Request.Context(), condition, uid)
	if err != nil {
		psthError(c, err)
		return
	}
	Ok(c, gin.H{
		"trial_condition_name": condition,
		"unit_uid":             uid,
		"rates":                rates,
		"psth_edges":           edges,
	}, nil)
}

func psthError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrUnknownTrialCondition) {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	Error(c, http.StatusBadGateway, err.Error(), nil)
}

func (h *EphysHandler) listElectrodeConfigs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListElectrodeConfigsParams{
		Limit:     limit,
		Offset:    offset,
		ProbeType: strQueryPtr(c, "probe_type"),
	}
	items, err := h.Repo.ListElectrodeConfigs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountElectrodeConfigs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *EphysHandler) listConfigElectrodes(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListElectrodeConfigElectrodes(c.Request.Context(), c.Param("hash"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *EphysHandler) listTrialConditions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListTrialConditions(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	keywords := keywordsQuery(c)
	if len(keywords) == 0 {
		Ok(c, items, nil)
		return
	}
	names := make([]string, len(items))
	byName := make(map[string]models.TrialCondition, len(items))
	for i, item := range items {
		names[i] = item.TrialConditionName
		byName[item.TrialConditionName] = item
	}
	matched := trialcond.MatchNames(names, keywords)
	out := make([]models.TrialCondition, 0, len(matched))
	for _, name := range matched {
		out = append(out, byName[name])
	}
	Ok(c, out, map[string]any{"keywords": keywords})
}

// keywordsQuery accepts repeated or comma-separated keywords.
func keywordsQuery(c *gin.Context) []string {
	var out []string
	for _, raw := range c.QueryArray("keywords") {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

func (h *EphysHandler) listJobs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListJobsParams{
		Limit:  limit,
		Offset: offset,
		Target: strQueryPtr(c, "table"),
		Status: strQueryPtr(c, "status"),
	}
	items, err := h.Repo.ListJobs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountJobs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *EphysHandler) unitUID(c *gin.Context) (int64, bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return 0, false
	}
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil || uid <= 0 {
		Error(c, http.StatusBadRequest, "invalid unit uid", nil)
		return 0, false
	}
	return uid, true
}

func conditionQuery(c *gin.Context) (string, bool) {
	condition := strings.TrimSpace(c.Query("condition"))
	if condition == "" {
		Error(c, http.StatusBadRequest, "condition is required", nil)
		return "", false
	}
	return condition, true
}
