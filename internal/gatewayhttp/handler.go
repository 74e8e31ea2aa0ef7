// Package gatewayhttp is the HTTP surface of the gateway (spec.md §4.8):
// CORS, signed-request verification, request decoding, intent routing,
// and the streaming/non-streaming reply paths. It owns no state of its
// own beyond request-scoped values; every stateful collaborator is
// injected.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/apperr"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/config"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/llm"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/mcpclient"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/prompt"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/router"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/semanticindex"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/sessionactor"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/store"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/transport"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/verify"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// Handler wires every collaborator the chat endpoint needs.
type Handler struct {
	cfg *config.Config

	sessions *sessionactor.Manager
	mcp      *mcpclient.Client
	index    *semanticindex.Index
	llm      *llm.Adapter
	archive  *store.Store
}

// New builds a Handler.
func New(cfg *config.Config, sessions *sessionactor.Manager, mcp *mcpclient.Client, index *semanticindex.Index, adapter *llm.Adapter, archive *store.Store) *Handler {
	return &Handler{cfg: cfg, sessions: sessions, mcp: mcp, index: index, llm: adapter, archive: archive}
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/chat", h.handleChat)
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	h.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// handleHealth answers plainly unless the caller asks for JSON, in
// which case it reports whether the configured LLM credential and shop
// domain are present, matching the deeper check operators scripted
// against the teacher's own /health endpoint.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		archiveOK := true
		if h.archive != nil {
			if err := h.archive.Ping(); err != nil {
				archiveOK = false
				L_warn("gatewayhttp: archive health probe failed", "error", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"llmConfigured": h.cfg.HasLLMCredential(),
			"shopDomain":    h.cfg.ShopDomain != "",
			"archiveOK":     archiveOK,
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (h *Handler) applyCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", h.cfg.AllowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+config.SignatureHeader+", "+config.DevBypassHeader)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeJSONError(w, apperr.BadRequest("method not allowed"))
		return
	}

	body, req, appErr := h.decodeRequest(w, r)
	if appErr != nil {
		writeJSONError(w, appErr)
		return
	}

	if appErr := h.verifyRequest(r, body); appErr != nil {
		writeJSONError(w, appErr)
		return
	}

	sessionID, handle := h.sessions.Resolve(req.SessionID)
	handle.SetCartID(req.CartID)

	if !handle.AllowRequest() {
		writeJSONError(w, apperr.RateLimit("too many requests for this session"))
		return
	}

	if err := handle.Append(domain.RoleUser, req.Message); err != nil {
		writeJSONError(w, apperr.Persistence(err))
		return
	}

	ctx := r.Context()
	class := router.Classify(req.Message)
	docs := h.retrieve(ctx, class, req.Message, handle)

	messages := prompt.Assemble(handle.History(), h.cfg.HistoryTailForPrompt, docs, h.cfg.PromptContextBudgetChars, req.Message)
	llmMessages := toLLMMessages(messages)

	if req.Stream {
		h.streamReply(ctx, w, sessionID, handle, llmMessages)
	} else {
		h.bufferedReply(ctx, w, sessionID, handle, llmMessages)
	}

	L_info("gatewayhttp: request handled",
		"method", r.Method, "path", r.URL.Path,
		"session", sessionPrefix(sessionID), "intent", class.Intent,
		"stream", req.Stream, "elapsed", time.Since(start))
}

const maxBodyBytes = 64 * 1024

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) ([]byte, domain.ChatRequest, *apperr.Error) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, domain.ChatRequest{}, apperr.BadRequest("could not read request body")
	}

	var req domain.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return raw, domain.ChatRequest{}, apperr.BadRequest("malformed JSON body")
	}
	if err := req.Validate(); err != nil {
		return raw, domain.ChatRequest{}, apperr.BadRequest(err.Error())
	}
	return raw, req, nil
}

// verifyRequest checks request authenticity, returning nil when the
// request is accepted. A missing PROXY_SECRET is an operator
// misconfiguration, not a forged request, so it is reported as a
// ConfigError (500) rather than silently falling through to
// verify.Verify and coming out looking like an ordinary bad signature
// (401).
func (h *Handler) verifyRequest(r *http.Request, body []byte) *apperr.Error {
	if h.cfg.DevBypass && r.Header.Get(config.DevBypassHeader) != "" {
		return nil
	}
	if h.cfg.ProxySecret == "" {
		return apperr.Config("PROXY_SECRET is not configured")
	}
	if !verify.Verify(r, h.cfg.ProxySecret, config.SignatureHeader, body) {
		return apperr.Auth("request signature did not verify")
	}
	return nil
}

// retrieve executes the strategy table of spec.md §4.4: which tool (or
// index) answers a given intent.
func (h *Handler) retrieve(ctx context.Context, class router.Classification, utterance string, handle *sessionactor.SessionHandle) []domain.RetrievedDocument {
	switch class.Intent {
	case domain.IntentProduct:
		return productsToDocs(h.mcp.CatalogSearch(ctx, utterance, ""))

	case domain.IntentCart:
		if class.CartMutate {
			var lines []domain.CartLine
			if class.MerchandiseID != "" {
				lines = []domain.CartLine{{MerchandiseID: class.MerchandiseID, Quantity: class.Quantity}}
			}
			cart := h.mcp.UpdateCart(ctx, handle.CartID(), lines)
			if cart != nil {
				handle.SetCartID(cart.ID)
				handle.LogCartAction("update_cart", utterance)
			}
			return cartToDocs(cart)
		}
		cart := h.mcp.GetCart(ctx, handle.CartID())
		return cartToDocs(cart)

	case domain.IntentOrder:
		var status *domain.OrderStatus
		if class.OrderID != "" {
			status = h.mcp.OrderStatus(ctx, class.OrderID)
		} else {
			status = h.mcp.RecentOrderStatus(ctx)
		}
		return orderToDocs(status)

	case domain.IntentPolicy:
		if docs := policiesToDocs(h.mcp.SearchPolicies(ctx, utterance, "")); len(docs) > 0 {
			return docs
		}
		if h.index == nil {
			return nil
		}
		docs := h.index.Query(ctx, utterance)
		if !semanticindex.HasHighConfidenceResults(docs, semanticindex.DefaultConfidenceThreshold) {
			return nil
		}
		return docs

	default:
		return nil
	}
}

func (h *Handler) bufferedReply(ctx context.Context, w http.ResponseWriter, sessionID string, handle *sessionactor.SessionHandle, messages []llm.Message) {
	reply, err := h.llm.Stream(ctx, messages, func(string) {})
	if err != nil {
		writeJSONError(w, apperr.LLM(err))
		return
	}
	if err := handle.Append(domain.RoleAssistant, reply); err != nil {
		writeJSONError(w, apperr.Persistence(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ChatResponse{Reply: reply, SessionID: sessionID})
}

func (h *Handler) streamReply(ctx context.Context, w http.ResponseWriter, sessionID string, handle *sessionactor.SessionHandle, messages []llm.Message) {
	sse, err := transport.NewSSEWriter(w)
	if err != nil {
		writeJSONError(w, apperr.Config("streaming is not supported by this response writer"))
		return
	}
	if err := sse.WriteMeta(sessionID); err != nil {
		return
	}

	reply, err := h.llm.Stream(ctx, messages, func(fragment string) {
		sse.WriteDelta(fragment)
	})
	if err != nil {
		sse.WriteError(apperr.LLM(err).Error())
		return
	}

	if err := handle.Append(domain.RoleAssistant, reply); err != nil {
		sse.WriteError(apperr.Persistence(err).Error())
		return
	}
	sse.WriteDone(reply)
}

func toLLMMessages(messages []domain.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func productsToDocs(products []domain.CatalogProduct) []domain.RetrievedDocument {
	docs := make([]domain.RetrievedDocument, len(products))
	for i, p := range products {
		docs[i] = domain.RetrievedDocument{
			ID:    p.ID,
			Text:  fmt.Sprintf("%s — %s. %s (%s)", p.Name, p.Price, p.Description, p.URL),
			Score: 1,
		}
	}
	return docs
}

func policiesToDocs(answers []domain.PolicyAnswer) []domain.RetrievedDocument {
	docs := make([]domain.RetrievedDocument, len(answers))
	for i, a := range answers {
		docs[i] = domain.RetrievedDocument{ID: fmt.Sprintf("policy-%d", i), Text: a.Question + " " + a.Answer, Score: 1}
	}
	return docs
}

func cartToDocs(cart *domain.Cart) []domain.RetrievedDocument {
	if cart == nil {
		return nil
	}
	return []domain.RetrievedDocument{{ID: cart.ID, Text: fmt.Sprintf("Cart %s total %s, %d line(s).", cart.ID, cart.Total, len(cart.Lines)), Score: 1}}
}

func orderToDocs(status *domain.OrderStatus) []domain.RetrievedDocument {
	if status == nil {
		return nil
	}
	return []domain.RetrievedDocument{{ID: status.OrderID, Text: fmt.Sprintf("Order %s: %s. %s", status.OrderID, status.Status, status.Description), Score: 1}}
}

// sessionPrefix truncates a session id for the access log so full ids
// don't accumulate in log aggregators as a quasi-identifier.
func sessionPrefix(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}

func writeJSONError(w http.ResponseWriter, err *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
