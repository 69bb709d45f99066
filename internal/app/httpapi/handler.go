// Package httpapi exposes the fount REST surface: user lifecycle, nineum
// management, signed transfers and grants, and spell resolution.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/fount-network/fount/internal/app"
	"github.com/fount-network/fount/internal/app/domain/spell"
	"github.com/fount-network/fount/internal/app/metrics"
	"github.com/fount-network/fount/internal/app/services/identity"
	nineumsvc "github.com/fount-network/fount/internal/app/services/nineum"
	"github.com/fount-network/fount/internal/app/storage"
	"github.com/fount-network/fount/internal/config"
	"github.com/fount-network/fount/internal/errors"
	"github.com/fount-network/fount/internal/middleware"
	"github.com/fount-network/fount/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	cfg   *config.Config
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns the fully wired API handler. auditPath, when non-empty,
// also persists audit entries as JSONL.
func NewHandler(application *app.Application, cfg *config.Config, auditPath string, log *logger.Logger) (http.Handler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	sink, err := newFileAuditSink(auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	var auditDest auditSink
	if sink != nil {
		auditDest = sink
	}

	h := &handler{
		app:   application,
		cfg:   cfg,
		audit: newAuditLog(200, auditDest),
		log:   log,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/user/create", h.createUser).Methods(http.MethodPut)
	router.HandleFunc("/user/pubKey/{pubKey}", h.getUserByPubKey).Methods(http.MethodGet)
	router.HandleFunc("/user/{uuid}", h.getUser).Methods(http.MethodGet)
	router.HandleFunc("/user/{uuid}", h.deleteUser).Methods(http.MethodDelete)
	router.HandleFunc("/user/{uuid}/nineum", h.listNineum).Methods(http.MethodGet)
	router.HandleFunc("/user/{uuid}/transfer", h.transferNineum).Methods(http.MethodPost)
	router.HandleFunc("/user/{uuid}/grant", h.grantExperience).Methods(http.MethodPost)
	router.HandleFunc("/resolve/{spellName}", h.resolveSpell).Methods(http.MethodPost)

	admin := middleware.NewAdminAuth(cfg.Auth.AdminSigningKey, log)
	router.Handle("/user/{uuid}/nineum",
		admin.Handler(http.HandlerFunc(h.mintNineum))).Methods(http.MethodPut)
	router.Handle("/user/{uuid}/nineum/admin",
		admin.Handler(http.HandlerFunc(h.mintFlavorBatch))).Methods(http.MethodPut)
	router.Handle("/user/{uuid}/nineum/galactic",
		admin.Handler(http.HandlerFunc(h.claimGalaxy))).Methods(http.MethodPut)
	router.Handle("/admin/audit",
		admin.Handler(http.HandlerFunc(h.listAudit))).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	router.Use(limiter.Handler)
	router.Use(h.auditMiddleware)

	requestID := middleware.NewRequestID(log)

	var chained http.Handler = router
	chained = metrics.InstrumentHandler(chained)
	chained = middleware.NewCORS([]string{"*"}).Handler(chained)
	chained = h.recoveryMiddleware(chained)
	chained = requestID.Handler(chained)
	return chained, nil
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Timestamp int64  `json:"timestamp"`
		PubKey    string `json:"pubKey"`
		Signature string `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}
	if payload.PubKey == "" {
		writeServiceError(w, errors.Validation("pubKey is required"))
		return
	}
	if err := h.checkSkew(payload.Timestamp); err != nil {
		writeServiceError(w, err)
		return
	}

	message := fmt.Sprintf("%d%s", payload.Timestamp, payload.PubKey)
	if !identity.Verify(payload.Signature, message, payload.PubKey) {
		writeServiceError(w, errors.Unauthorized("signature does not match pubKey"))
		return
	}

	// Re-registering an existing key returns the existing user.
	if existing, err := h.app.Economy.GetUserByPublicKey(r.Context(), payload.PubKey); err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	created, err := h.app.Economy.CreateUser(r.Context(), payload.PubKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Economy.GetUser(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) getUserByPubKey(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Economy.GetUserByPublicKey(r.Context(), mux.Vars(r)["pubKey"])
	if err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var payload struct {
		Timestamp int64  `json:"timestamp"`
		Signature string `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}
	if err := h.checkSkew(payload.Timestamp); err != nil {
		writeServiceError(w, err)
		return
	}

	u, err := h.app.Economy.GetUser(r.Context(), uuid)
	if err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	message := fmt.Sprintf("%d%s", payload.Timestamp, uuid)
	if !identity.Verify(payload.Signature, message, u.PublicKey) {
		writeServiceError(w, errors.Unauthorized("signature invalid"))
		return
	}

	if err := h.app.Nineum.Purge(r.Context(), uuid); err != nil {
		writeServiceError(w, errors.Internal("purge nineum", err))
		return
	}
	if err := h.app.Economy.DeleteUser(r.Context(), uuid); err != nil {
		writeServiceError(w, errors.Internal("delete user", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *handler) listNineum(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	ids, err := h.app.Nineum.List(r.Context(), uuid)
	if err != nil {
		writeServiceError(w, errors.Internal("list nineum", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uuid":   uuid,
		"nineum": ids,
	})
}

func (h *handler) mintNineum(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var payload struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}
	if payload.Quantity <= 0 {
		writeServiceError(w, errors.Validation("quantity must be positive"))
		return
	}

	ids, err := h.app.Nineum.Mint(r.Context(), uuid, payload.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.app.Economy.AdjustNineumCount(r.Context(), uuid, len(ids)); err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	metrics.NineumMinted(len(ids))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uuid":   uuid,
		"nineum": ids,
	})
}

func (h *handler) mintFlavorBatch(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var payload struct {
		Galaxy    string `json:"galaxy"`
		Quantity  int    `json:"quantity"`
		Charge    string `json:"charge"`
		Direction string `json:"direction"`
		Rarity    string `json:"rarity"`
		Size      string `json:"size"`
		Texture   string `json:"texture"`
		Shape     string `json:"shape"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}

	spec := nineumsvc.FlavorSpec{
		Charge:    payload.Charge,
		Direction: payload.Direction,
		Rarity:    payload.Rarity,
		Size:      payload.Size,
		Texture:   payload.Texture,
		Shape:     payload.Shape,
	}
	ids, err := h.app.Nineum.MintFlavorBatch(r.Context(), uuid, payload.Galaxy, spec, payload.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.app.Economy.AdjustNineumCount(r.Context(), uuid, len(ids)); err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	metrics.NineumMinted(len(ids))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uuid":   uuid,
		"nineum": ids,
	})
}

func (h *handler) claimGalaxy(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var payload struct {
		Galaxy string `json:"galaxy"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}

	id, err := h.app.Nineum.ClaimGalaxy(r.Context(), payload.Galaxy, uuid)
	if err != nil {
		if stderrors.Is(err, storage.ErrGalaxyClaimed) {
			writeServiceError(w, errors.Validation("Galaxy is already claimed"))
			return
		}
		writeServiceError(w, err)
		return
	}
	if _, err := h.app.Economy.AdjustNineumCount(r.Context(), uuid, 1); err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	metrics.NineumMinted(1)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uuid":   uuid,
		"galaxy": payload.Galaxy,
		"nineum": id,
	})
}

func (h *handler) transferNineum(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var payload struct {
		Timestamp       int64    `json:"timestamp"`
		DestinationUUID string   `json:"destinationUUID"`
		NineumIDs       []string `json:"nineumIds"`
		Price           int      `json:"price"`
		Currency        string   `json:"currency"`
		Signature       string   `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}
	if payload.DestinationUUID == "" || len(payload.NineumIDs) == 0 {
		writeServiceError(w, errors.Validation("destinationUUID and nineumIds are required"))
		return
	}
	if err := h.checkSkew(payload.Timestamp); err != nil {
		writeServiceError(w, err)
		return
	}

	from, err := h.app.Economy.GetUser(r.Context(), uuid)
	if err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	if _, err := h.app.Economy.GetUser(r.Context(), payload.DestinationUUID); err != nil {
		writeServiceError(w, mapStoreError(err, "destination user not found"))
		return
	}

	message := fmt.Sprintf("%d%s%s%s%d%s", payload.Timestamp, uuid, payload.DestinationUUID,
		strings.Join(payload.NineumIDs, ""), payload.Price, payload.Currency)
	if !identity.Verify(payload.Signature, message, from.PublicKey) {
		writeServiceError(w, errors.Unauthorized("transfer signature invalid"))
		return
	}

	if err := h.app.Nineum.Transfer(r.Context(), uuid, payload.DestinationUUID, payload.NineumIDs); err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.app.Economy.AdjustNineumCount(r.Context(), uuid, -len(payload.NineumIDs)); err != nil {
		writeServiceError(w, errors.Internal("adjust sender count", err))
		return
	}
	if _, err := h.app.Economy.AdjustNineumCount(r.Context(), payload.DestinationUUID, len(payload.NineumIDs)); err != nil {
		writeServiceError(w, errors.Internal("adjust recipient count", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transferred": len(payload.NineumIDs),
	})
}

func (h *handler) grantExperience(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var payload struct {
		Timestamp       int64  `json:"timestamp"`
		DestinationUUID string `json:"destinationUUID"`
		Amount          int    `json:"amount"`
		Description     string `json:"description"`
		Signature       string `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}
	if payload.DestinationUUID == "" || payload.Amount <= 0 {
		writeServiceError(w, errors.Validation("destinationUUID and a positive amount are required"))
		return
	}
	if err := h.checkSkew(payload.Timestamp); err != nil {
		writeServiceError(w, err)
		return
	}

	granter, err := h.app.Economy.GetUser(r.Context(), uuid)
	if err != nil {
		writeServiceError(w, mapStoreError(err, "user not found"))
		return
	}
	message := fmt.Sprintf("%d%s%s%d%s", payload.Timestamp, uuid, payload.DestinationUUID,
		payload.Amount, payload.Description)
	if !identity.Verify(payload.Signature, message, granter.PublicKey) {
		writeServiceError(w, errors.Unauthorized("grant signature invalid"))
		return
	}

	updated, err := h.app.Economy.Grant(r.Context(), uuid, payload.DestinationUUID, payload.Amount)
	if err != nil {
		writeServiceError(w, mapStoreError(err, "destination user not found"))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) resolveSpell(w http.ResponseWriter, r *http.Request) {
	spellName := mux.Vars(r)["spellName"]

	var req spell.Request
	if err := decodeJSON(r.Body, &req); err != nil {
		writeServiceError(w, errors.Validation(err.Error()))
		return
	}

	resp, err := h.app.Resolver.Resolve(r.Context(), spellName, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make(map[string]interface{}, len(resp.Merged)+2)
	for k, v := range resp.Merged {
		out[k] = v
	}
	out["success"] = resp.Success
	out["signatureMap"] = resp.SignatureMap
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// checkSkew rejects signed payloads outside the acceptable clock window.
func (h *handler) checkSkew(timestamp int64) error {
	at := time.UnixMilli(timestamp)
	skew := time.Since(at)
	if skew < 0 {
		skew = -skew
	}
	if skew > h.cfg.Economy.TimeSkewTolerance {
		return errors.Unauthorized("timestamp outside acceptable window")
	}
	return nil
}

func (h *handler) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.WithField("panic", rec).WithField("path", r.URL.Path).Error("handler panicked")
				writeServiceError(w, errors.Internal("spell failed", fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		vars := mux.Vars(r)
		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Caster:     vars["uuid"],
			Spell:      vars["spellName"],
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// mapStoreError converts storage sentinels into API errors.
func mapStoreError(err error, notFoundMessage string) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound(notFoundMessage)
	}
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		return svcErr
	}
	return errors.Internal("store failure", err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeServiceError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    svcErr.Code,
			"message": svcErr.Message,
			"details": svcErr.Details,
		},
	})
}
