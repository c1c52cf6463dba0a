package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"nftreserve/auth"
	"nftreserve/mint"
	"nftreserve/models"
	"nftreserve/reservation"
)

type submissionRequest struct {
	WalletAddress string `json:"wallet_address"`
	NFTID         string `json:"nft_id"`
	TxHash        string `json:"tx_hash,omitempty"`
	SignedTx      string `json:"signed_tx,omitempty"`
}

type txResultRequest struct {
	WalletAddress string     `json:"wallet_address"`
	TxHash        string     `json:"tx_hash"`
	Success       bool       `json:"success"`
	TokenID       string     `json:"token_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	AssignedOn    *time.Time `json:"assigned_on,omitempty"`
}

type assignOwnerRequest struct {
	WalletAddress string `json:"wallet_address"`
	TokenID       string `json:"token_id"`
}

func (s *Server) decodeSubmission(w http.ResponseWriter, r *http.Request) (*submissionRequest, uuid.UUID, bool) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return nil, uuid.Nil, false
	}
	if !auth.IsValidAddress(req.WalletAddress) {
		s.handleEngineError(w, &reservation.ValidationError{Field: "wallet_address", Reason: "not a valid wallet address"})
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(req.NFTID)
	if err != nil {
		s.handleEngineError(w, &reservation.ValidationError{Field: "nft_id", Reason: "not a valid id"})
		return nil, uuid.Nil, false
	}
	return &req, id, true
}

// RecordTxHash stores the pending transaction identifier for a reserved item.
func (s *Server) RecordTxHash(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.decodeSubmission(w, r)
	if !ok {
		return
	}
	if req.TxHash == "" {
		s.handleEngineError(w, &reservation.ValidationError{Field: "tx_hash", Reason: "required"})
		return
	}
	if err := s.tracker.RecordTxHash(r.Context(), req.WalletAddress, id, req.TxHash); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "in_process"})
}

// RecordSignedTx stores the signed payload for a reserved item.
func (s *Server) RecordSignedTx(w http.ResponseWriter, r *http.Request) {
	req, id, ok := s.decodeSubmission(w, r)
	if !ok {
		return
	}
	if req.SignedTx == "" {
		s.handleEngineError(w, &reservation.ValidationError{Field: "signed_tx", Reason: "required"})
		return
	}
	if err := s.tracker.RecordSignedTx(r.Context(), req.WalletAddress, id, req.SignedTx); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "in_process"})
}

// ResolveTx applies a settlement outcome reported for a submission.
func (s *Server) ResolveTx(w http.ResponseWriter, r *http.Request) {
	var req txResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TxHash == "" {
		s.handleEngineError(w, &reservation.ValidationError{Field: "tx_hash", Reason: "required"})
		return
	}
	if req.WalletAddress != "" && !auth.IsValidAddress(req.WalletAddress) {
		s.handleEngineError(w, &reservation.ValidationError{Field: "wallet_address", Reason: "not a valid wallet address"})
		return
	}
	report := mint.TxReport{
		WalletAddress: req.WalletAddress,
		TxHash:        req.TxHash,
		Success:       req.Success,
		TokenID:       req.TokenID,
		Error:         req.Error,
	}
	if req.AssignedOn != nil {
		report.AssignedOn = *req.AssignedOn
	}
	if err := s.tracker.ResolveTx(r.Context(), report); err != nil {
		s.handleEngineError(w, err)
		return
	}
	status := "assigned"
	if !req.Success {
		status = "submit_error"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// AssignOwner directly assigns the matching reserved item to its holder.
func (s *Server) AssignOwner(w http.ResponseWriter, r *http.Request) {
	var req assignOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !auth.IsValidAddress(req.WalletAddress) {
		s.handleEngineError(w, &reservation.ValidationError{Field: "wallet_address", Reason: "not a valid wallet address"})
		return
	}
	if req.TokenID == "" {
		s.handleEngineError(w, &reservation.ValidationError{Field: "token_id", Reason: "required"})
		return
	}
	if err := s.tracker.AssignOwner(r.Context(), req.WalletAddress, req.TokenID); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

type mintMetadataResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	MetaData  models.Metadata `json:"meta_data"`
	Signature string          `json:"signature,omitempty"`
}

// MintMetadata returns the signed metadata a holder needs to build the mint
// transaction. The hold is validated first; submit-error retries pass even
// past expiry.
func (s *Server) MintMetadata(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if !auth.IsValidAddress(wallet) {
		s.handleEngineError(w, &reservation.ValidationError{Field: "wallet", Reason: "not a valid wallet address"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "nft"))
	if err != nil {
		s.handleEngineError(w, &reservation.ValidationError{Field: "nft", Reason: "not a valid id"})
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
	if err := s.tracker.ValidateHold(&nft, wallet); err != nil {
		s.handleEngineError(w, err)
		return
	}

	resp := mintMetadataResponse{
		ID:       nft.ID.String(),
		Name:     nft.Name,
		MetaData: nft.MetaData,
	}
	if s.signer != nil {
		sig, err := s.signer.SignAllocation(wallet, nft.MetaData.Attributes)
		if err != nil {
			s.handleEngineError(w, err)
			return
		}
		resp.Signature = sig
	}
	s.writeJSON(w, http.StatusOK, resp)
}
