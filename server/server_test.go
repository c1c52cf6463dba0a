package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nftreserve/auth"
	"nftreserve/mint"
	"nftreserve/models"
	"nftreserve/reservation"
)

const testWallet = "terra1f000000000000000000000000000000000000f"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db     *gorm.DB
	server *Server
	signer *auth.Signer
	now    time.Time
}

func newTestEnv(t *testing.T, debugSig bool) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	now := time.Now()
	nowFn := func() time.Time { return now }

	signer, err := auth.NewSigner()
	require.NoError(t, err)
	var keys []string
	if !debugSig {
		keys = []string{signer.PublicKeyHex()}
	}
	verifier, err := auth.NewVerifier(keys, debugSig)
	require.NoError(t, err)

	engine := reservation.New(reservation.Config{DB: db, Now: nowFn})
	tracker := mint.New(mint.Config{DB: db, Now: nowFn})
	srv := New(Config{
		Engine:                 engine,
		Tracker:                tracker,
		Verifier:               verifier,
		Signer:                 signer,
		MaxReservations:        2,
		MaxReservationDuration: 30 * time.Minute,
		Now:                    nowFn,
	})
	return &testEnv{db: db, server: srv, signer: signer, now: now}
}

func (e *testEnv) seedOpenStage(t *testing.T) models.Stage {
	t.Helper()
	open := e.now.Add(-time.Hour)
	stage := models.Stage{ID: uuid.New(), Code: "public", Name: "public", IsDefault: true, StageOpen: &open}
	require.NoError(t, e.db.Create(&stage).Error)
	return stage
}

func (e *testEnv) seedNFT(t *testing.T, name string) models.NFT {
	t.Helper()
	nft := models.NFT{ID: uuid.New(), Name: name, MetaData: models.Metadata{Name: name}}
	require.NoError(t, e.db.Create(&nft).Error)
	return nft
}

func (e *testEnv) signedPost(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	sig, err := e.signer.Sign(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.SignatureHeader, sig)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedFreeStage(t *testing.T, code string) models.Stage {
	t.Helper()
	open := e.now.Add(-time.Hour)
	stage := models.Stage{ID: uuid.New(), Code: code, Name: code, StageFree: true, StageOpen: &open}
	require.NoError(t, e.db.Create(&stage).Error)
	return stage
}

func (e *testEnv) signedGet(t *testing.T, path string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	sig, err := e.signer.Sign(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(auth.SignatureHeader, sig)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestReservationFlow(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")
	env.seedNFT(t, "item-2")

	rec := env.signedPost(t, "/reservation/new", map[string]any{
		"wallet_address": testWallet,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		WalletAddress string `json:"wallet_address"`
		NFTs          []struct {
			ID string `json:"id"`
		} `json:"nfts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, testWallet, resp.WalletAddress)
	require.Len(t, resp.NFTs, 1)

	listRec := env.get(t, "/reservation/"+testWallet)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.Len(t, resp.NFTs, 1)
}

func TestReservationRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")

	body := []byte(`{"wallet_address":"` + testWallet + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/reservation/new", bytes.NewReader(body))
	req.Header.Set(auth.SignatureHeader, "bm90IGEgc2lnbmF0dXJl")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReservationDebugModeSkipsSignature(t *testing.T) {
	env := newTestEnv(t, true)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")

	body := []byte(`{"wallet_address":"` + testWallet + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/reservation/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestReservationNoInventoryCode(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)

	rec := env.signedPost(t, "/reservation/new", map[string]any{
		"wallet_address": testWallet,
	})
	require.Equal(t, statusNoInventory, rec.Code)

	var envlp apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envlp))
	require.Equal(t, statusNoInventory, envlp.Code)
	require.Equal(t, "no NFTs available for reservation at this time", envlp.Message)
}

func TestReservationQuotaEnforced(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	for i := 0; i < 4; i++ {
		env.seedNFT(t, fmt.Sprintf("item-%d", i))
	}

	for i := 0; i < 2; i++ {
		rec := env.signedPost(t, "/reservation/new", map[string]any{"wallet_address": testWallet})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := env.signedPost(t, "/reservation/new", map[string]any{"wallet_address": testWallet})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReservationClaimsSingleItemPerRequest(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	for i := 0; i < 5; i++ {
		env.seedNFT(t, fmt.Sprintf("item-%d", i))
	}

	// A count in the payload must not let one request stack holds past the
	// per-wallet quota.
	rec := env.signedPost(t, "/reservation/new", map[string]any{
		"wallet_address": testWallet,
		"count":          5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		NFTs []struct {
			ID string `json:"id"`
		} `json:"nfts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.NFTs, 1)

	var held int64
	err := env.db.Model(&models.NFT{}).
		Where("reserved_to_wallet_address = ? AND reserved = ?", testWallet, true).
		Count(&held).Error
	require.NoError(t, err)
	require.Equal(t, int64(1), held)
}

func TestReservationRejectsExcessiveWindow(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")

	tooLong := env.now.Add(2 * time.Hour)
	rec := env.signedPost(t, "/reservation/new", map[string]any{
		"wallet_address": testWallet,
		"reserved_until": tooLong,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "exceeds maximum reservation length")
}

func TestReservationHonorsRequestedWindow(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")

	until := env.now.Add(10 * time.Minute)
	rec := env.signedPost(t, "/reservation/new", map[string]any{
		"wallet_address": testWallet,
		"reserved_until": until,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var nft models.NFT
	require.NoError(t, env.db.First(&nft, "reserved_to_wallet_address = ?", testWallet).Error)
	require.Equal(t, until.Unix(), nft.ReservedUntil.Unix())
}

func TestReservationRejectsBadAddress(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.signedPost(t, "/reservation/new", map[string]any{"wallet_address": "nonsense"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMintLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")

	rec := env.signedPost(t, "/reservation/new", map[string]any{"wallet_address": testWallet})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		NFTs []struct {
			ID string `json:"id"`
		} `json:"nfts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	nftID := created.NFTs[0].ID

	metaRec := env.get(t, "/mint/"+testWallet+"/"+nftID)
	require.Equal(t, http.StatusOK, metaRec.Code, metaRec.Body.String())
	var meta struct {
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(metaRec.Body.Bytes(), &meta))
	require.NotEmpty(t, meta.Signature)

	rec = env.signedPost(t, "/mint/hash", map[string]any{
		"wallet_address": testWallet,
		"nft_id":         nftID,
		"tx_hash":        "HASH1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	inProc := env.get(t, "/reservation/in-process")
	require.Equal(t, http.StatusOK, inProc.Code)
	var hashes map[string][]string
	require.NoError(t, json.Unmarshal(inProc.Body.Bytes(), &hashes))
	require.Equal(t, []string{"HASH1"}, hashes["tx_hashes"])

	rec = env.signedPost(t, "/mint/tx_result", map[string]any{
		"wallet_address": testWallet,
		"tx_hash":        "HASH1",
		"success":        true,
		"token_id":       "9",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Replaying the confirmation must not double-assign.
	rec = env.signedPost(t, "/mint/tx_result", map[string]any{
		"wallet_address": testWallet,
		"tx_hash":        "HASH1",
		"success":        true,
		"token_id":       "9",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var nft models.NFT
	require.NoError(t, env.db.First(&nft, "id = ?", nftID).Error)
	require.True(t, nft.Assigned)
	require.Equal(t, "9", *nft.TokenID)
}

func TestMintMetadataRejectsNonHolder(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "item-1")

	rec := env.signedPost(t, "/reservation/new", map[string]any{"wallet_address": testWallet})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		NFTs []struct {
			ID string `json:"id"`
		} `json:"nfts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	other := "terra190000000000000000000000000000000000009"
	metaRec := env.get(t, "/mint/"+other+"/"+created.NFTs[0].ID)
	require.Equal(t, http.StatusUnauthorized, metaRec.Code)
}

func TestFreeStageMintRequiresSignature(t *testing.T) {
	env := newTestEnv(t, false)
	stage := env.seedFreeStage(t, "promo")
	env.seedNFT(t, "item-1")
	alloc := models.WalletStageAllocation{
		ID:              uuid.New(),
		WalletAddress:   testWallet,
		StageID:         stage.ID,
		AllocationCount: 1,
	}
	require.NoError(t, env.db.Create(&alloc).Error)

	rec := env.get(t, "/reservation/free/stage/promo")
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	var held int64
	require.NoError(t, env.db.Model(&models.NFT{}).Where("reserved = ?", true).Count(&held).Error)
	require.Zero(t, held, "an unsigned batch request must not claim inventory")
}

func TestFreeStageMintSignedBatch(t *testing.T) {
	env := newTestEnv(t, false)
	stage := env.seedFreeStage(t, "promo")
	env.seedNFT(t, "item-1")
	alloc := models.WalletStageAllocation{
		ID:              uuid.New(),
		WalletAddress:   testWallet,
		StageID:         stage.ID,
		AllocationCount: 1,
	}
	require.NoError(t, env.db.Create(&alloc).Error)

	rec := env.signedGet(t, "/reservation/free/stage/promo", []byte(`{"stage":"promo"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []struct {
		WalletAddress string `json:"wallet_address"`
		NFTs          []struct {
			ID string `json:"id"`
		} `json:"nfts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, testWallet, results[0].WalletAddress)
	require.Len(t, results[0].NFTs, 1)
}

func TestGetNFTRedactsTxHash(t *testing.T) {
	env := newTestEnv(t, false)
	nft := env.seedNFT(t, "item-1")
	hash := "SECRET"
	require.NoError(t, env.db.Model(&models.NFT{}).Where("id = ?", nft.ID).Update("tx_hash", hash).Error)

	rec := env.get(t, "/nft/"+nft.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "SECRET")
}

func TestPoolStats(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedOpenStage(t)
	env.seedNFT(t, "a")
	env.seedNFT(t, "b")

	rec := env.signedPost(t, "/reservation/new", map[string]any{"wallet_address": testWallet})
	require.Equal(t, http.StatusCreated, rec.Code)

	statsRec := env.get(t, "/nft/")
	require.Equal(t, http.StatusOK, statsRec.Code)
	var stats poolStats
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	require.Equal(t, int64(2), stats.Total)
	require.Equal(t, int64(1), stats.Reserved)
	require.Equal(t, int64(1), stats.Available)
}

func TestIngestNFT(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.signedPost(t, "/nft/new", map[string]any{
		"name": "fresh",
		"meta_data": map[string]any{
			"name": "fresh",
			"attributes": []map[string]string{
				{"trait_type": "tier", "value": "gold"},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var count int64
	require.NoError(t, env.db.Model(&models.NFT{}).Where("name = ?", "fresh").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}
