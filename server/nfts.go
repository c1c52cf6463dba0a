package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"nftreserve/models"
	"nftreserve/reservation"
)

type poolStats struct {
	Total     int64 `json:"total"`
	Assigned  int64 `json:"assigned"`
	Reserved  int64 `json:"reserved"`
	InProcess int64 `json:"in_process"`
	Available int64 `json:"available"`
}

// PoolStats tallies the inventory by lifecycle state.
func (s *Server) PoolStats(w http.ResponseWriter, r *http.Request) {
	db := s.engine.DB().WithContext(r.Context())
	now := s.now()

	var stats poolStats
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.Total, db.Model(&models.NFT{})},
		{&stats.Assigned, db.Model(&models.NFT{}).Where("assigned = ?", true)},
		{&stats.Reserved, db.Model(&models.NFT{}).Where("reserved = ? AND assigned = ? AND reserved_until > ?", true, false, now)},
		{&stats.InProcess, db.Model(&models.NFT{}).Where("in_process = ? AND assigned = ?", true, false)},
		{&stats.Available, db.Model(&models.NFT{}).
			Where("assigned = ? AND in_process = ? AND has_submit_error = ?", false, false, false).
			Where("reserved = ? OR reserved_until < ?", false, now)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			s.handleEngineError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type stageStats struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Open      bool   `json:"open"`
	IsDefault bool   `json:"is_default"`
	Allocated int64  `json:"allocated"`
	Reserved  int64  `json:"reserved"`
	Assigned  int64  `json:"assigned"`
}

// StageStats tallies allocations per stage.
func (s *Server) StageStats(w http.ResponseWriter, r *http.Request) {
	db := s.engine.DB().WithContext(r.Context())
	now := s.now()

	var stages []models.Stage
	if err := db.Find(&stages).Error; err != nil {
		s.handleEngineError(w, err)
		return
	}
	out := make([]stageStats, 0, len(stages))
	for i := range stages {
		stage := &stages[i]
		row := stageStats{
			Code:      stage.Code,
			Name:      stage.Name,
			Open:      stage.OpenAt(now),
			IsDefault: stage.IsDefault,
		}
		type tally struct {
			Allocated int64
			Reserved  int64
			Assigned  int64
		}
		var t tally
		err := db.Model(&models.WalletStageAllocation{}).
			Select("COALESCE(SUM(allocation_count),0) AS allocated, COALESCE(SUM(reserved_count),0) AS reserved, COALESCE(SUM(assigned_count),0) AS assigned").
			Where("stage_id = ?", stage.ID).
			Scan(&t).Error
		if err != nil {
			s.handleEngineError(w, err)
			return
		}
		row.Allocated, row.Reserved, row.Assigned = t.Allocated, t.Reserved, t.Assigned
		out = append(out, row)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// GetNFT returns the public view of one item. The submission payloads never
// leave the service.
func (s *Server) GetNFT(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.handleEngineError(w, &reservation.ValidationError{Field: "id", Reason: "not a valid id"})
		return
	}
	var nft models.NFT
	if err := s.engine.DB().WithContext(r.Context()).First(&nft, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.handleEngineError(w, reservation.ErrNotFound)
			return
		}
		s.handleEngineError(w, err)
		return
	}
	// Redact the submission handle from the public view.
	nft.TxHash = nil
	nft.TxError = nil
	s.writeJSON(w, http.StatusOK, nft)
}

type ingestRequest struct {
	Name            string          `json:"name"`
	MetaData        models.Metadata `json:"meta_data"`
	SVG             string          `json:"svg,omitempty"`
	IPFSImage       string          `json:"ipfs_image,omitempty"`
	IPFSMeta        string          `json:"ipfs_meta,omitempty"`
	ImageData       *string         `json:"image_data,omitempty"`
	ExternalURL     *string         `json:"external_url,omitempty"`
	Description     *string         `json:"description,omitempty"`
	BackgroundColor *string         `json:"background_color,omitempty"`
	AnimationURL    *string         `json:"animation_url,omitempty"`
	YoutubeURL      *string         `json:"youtube_url,omitempty"`
}

// IngestNFT adds a new item to the pool.
func (s *Server) IngestNFT(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Name == "" {
		s.handleEngineError(w, &reservation.ValidationError{Field: "name", Reason: "required"})
		return
	}
	if err := req.MetaData.Validate(); err != nil {
		s.handleEngineError(w, &reservation.ValidationError{Field: "meta_data", Reason: err.Error()})
		return
	}
	nft := models.NFT{
		ID:              uuid.New(),
		Name:            req.Name,
		MetaData:        req.MetaData,
		SVG:             req.SVG,
		IPFSImage:       req.IPFSImage,
		IPFSMeta:        req.IPFSMeta,
		ImageData:       req.ImageData,
		ExternalURL:     req.ExternalURL,
		Description:     req.Description,
		BackgroundColor: req.BackgroundColor,
		AnimationURL:    req.AnimationURL,
		YoutubeURL:      req.YoutubeURL,
	}
	if err := s.engine.DB().WithContext(r.Context()).Create(&nft).Error; err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": nft.ID.String()})
}
