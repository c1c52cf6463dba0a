package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nftreserve/auth"
	"nftreserve/models"
	"nftreserve/reservation"
)

type reservationRequest struct {
	WalletAddress string `json:"wallet_address"`
	// ReservedUntil is optional; the policy maximum applies when absent.
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
}

type reservationResponse struct {
	WalletAddress string       `json:"wallet_address"`
	Stage         string       `json:"stage,omitempty"`
	NFTs          []nftSummary `json:"nfts"`
}

type nftSummary struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	MetaData      models.Metadata `json:"meta_data"`
	ReservedUntil *time.Time      `json:"reserved_until,omitempty"`
	Assigned      bool            `json:"assigned"`
	TokenID       *string         `json:"token_id,omitempty"`
}

func summarize(rows []models.NFT) []nftSummary {
	out := make([]nftSummary, 0, len(rows))
	for i := range rows {
		n := &rows[i]
		out = append(out, nftSummary{
			ID:            n.ID.String(),
			Name:          n.Name,
			MetaData:      n.MetaData,
			ReservedUntil: n.ReservedUntil,
			Assigned:      n.Assigned,
			TokenID:       n.TokenID,
		})
	}
	return out
}

// CreateReservation runs the full draw pipeline: quota, stage resolution,
// allocation. Each request claims exactly one item; the quota bounds how many
// requests a wallet can stack.
func (s *Server) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !auth.IsValidAddress(req.WalletAddress) {
		s.handleEngineError(w, &reservation.ValidationError{Field: "wallet_address", Reason: "not a valid wallet address"})
		return
	}

	now := s.now()
	limit := now.Add(s.maxReservationDuration)
	reservedUntil := limit
	if req.ReservedUntil != nil {
		if req.ReservedUntil.Before(now) {
			s.handleEngineError(w, &reservation.ValidationError{Field: "reserved_until", Reason: "must be in the future"})
			return
		}
		if req.ReservedUntil.After(limit) {
			s.handleEngineError(w, &reservation.ValidationError{Field: "reserved_until", Reason: "exceeds maximum reservation length"})
			return
		}
		reservedUntil = *req.ReservedUntil
	}

	ctx := r.Context()
	if err := s.engine.CheckQuota(ctx, req.WalletAddress, s.maxReservations); err != nil {
		s.handleEngineError(w, err)
		return
	}
	stages, err := s.engine.ResolveStages(ctx, req.WalletAddress)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	claimed, err := s.engine.Allocate(ctx, req.WalletAddress, stages, 1, reservedUntil, false)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, reservationResponse{
		WalletAddress: req.WalletAddress,
		NFTs:          summarize(claimed),
	})
}

// WalletReservations lists a wallet's live and assigned holds.
func (s *Server) WalletReservations(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !auth.IsValidAddress(address) {
		s.handleEngineError(w, &reservation.ValidationError{Field: "address", Reason: "not a valid wallet address"})
		return
	}
	rows, err := s.engine.ReservationsForWallet(r.Context(), address)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reservationResponse{
		WalletAddress: address,
		NFTs:          summarize(rows),
	})
}

// InProcess returns the submission identifiers awaiting settlement.
func (s *Server) InProcess(w http.ResponseWriter, r *http.Request) {
	hashes, err := s.tracker.InProcessHashes(r.Context())
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"tx_hashes": hashes})
}

// InMintProcess is the mint-run triage feed for items with a submission in
// flight.
func (s *Server) InMintProcess(w http.ResponseWriter, r *http.Request) {
	rows, err := s.tracker.InMintProcess(r.Context())
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(rows))
}

// InMintReserved is the mint-run triage feed for claimed-but-unsubmitted
// items.
func (s *Server) InMintReserved(w http.ResponseWriter, r *http.Request) {
	rows, err := s.tracker.InMintReserved(r.Context())
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(rows))
}

// StuckMintProcess is the mint-run triage feed for submissions that outlived
// their window.
func (s *Server) StuckMintProcess(w http.ResponseWriter, r *http.Request) {
	rows, err := s.tracker.StuckInMintProcess(r.Context())
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(rows))
}

// FreeStageMint claims one item for every wallet still holding allocation in
// a free stage, marking the claims as part of a mint run. The route mutates
// inventory, so the caller must sign the canonical stage payload.
func (s *Server) FreeStageMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "stage")
	if err := s.verifyStageSignature(r, code); err != nil {
		s.logger.Info("signature rejected", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	stage, err := s.engine.StageByCode(ctx, code)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if !stage.StageFree {
		s.handleEngineError(w, &reservation.ValidationError{Field: "stage", Reason: "stage is not free"})
		return
	}
	if !stage.OpenAt(s.now()) {
		s.handleEngineError(w, reservation.ErrNoStagesOpen)
		return
	}
	wallets, err := s.engine.OpenWalletsForStage(ctx, stage.ID.String())
	if err != nil {
		s.handleEngineError(w, err)
		return
	}

	reservedUntil := s.now().Add(s.maxReservationDuration)
	results := make([]reservationResponse, 0, len(wallets))
	for _, alloc := range wallets {
		remaining := alloc.Remaining()
		if remaining < 1 {
			continue
		}
		claimed, err := s.engine.Allocate(ctx, alloc.WalletAddress, []models.Stage{*stage}, remaining, reservedUntil, true)
		if err != nil {
			// A dried-up pool ends the batch; anything else is fatal.
			if isNoInventory(err) {
				break
			}
			s.handleEngineError(w, err)
			return
		}
		results = append(results, reservationResponse{
			WalletAddress: alloc.WalletAddress,
			Stage:         stage.Code,
			NFTs:          summarize(claimed),
		})
	}
	s.writeJSON(w, http.StatusOK, results)
}

func isNoInventory(err error) bool {
	return errors.Is(err, reservation.ErrNoInventory)
}
