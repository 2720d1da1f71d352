package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sneh-joshi/dmq/internal/broker"
	"github.com/sneh-joshi/dmq/internal/channel"
	"github.com/sneh-joshi/dmq/internal/consumer"
	"github.com/sneh-joshi/dmq/internal/queue"
	"github.com/sneh-joshi/dmq/internal/ringbuf"
	"github.com/sneh-joshi/dmq/internal/types"
)

// defaultReadPages is how many pages GET /channels/{id}/messages returns when
// page_count is absent.
const defaultReadPages = 1

// maxReadPages bounds page_count so one request cannot read a whole backlog.
const maxReadPages = 64

// Handler groups all HTTP request handlers around a Broker.
type Handler struct {
	broker   *broker.Broker
	consumer *consumer.Manager
	dataDir  string
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type costResp struct {
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
	Weight uint64 `json:"weight"`
}

func toCost(c queue.Cost, weight uint64) costResp {
	return costResp{Reads: c.Reads, Writes: c.Writes, Weight: weight}
}

type registerReq struct {
	ID    types.ChannelID `json:"id"`
	Label string          `json:"label"`
}

type channelResp struct {
	ID            types.ChannelID `json:"id"`
	Label         string          `json:"label,omitempty"`
	RegisteredAt  int64           `json:"registered_at"`
	OffboardingAt int64           `json:"offboarding_at,omitempty"`
}

func toChannelResp(c *channel.Channel) channelResp {
	return channelResp{
		ID:            c.ID,
		Label:         c.Label,
		RegisteredAt:  c.RegisteredAt,
		OffboardingAt: c.OffboardingAt,
	}
}

type channelListResp struct {
	Channels []channelResp `json:"channels"`
}

type queueStateResp struct {
	HeadPage  uint64 `json:"head_page"`
	TailPage  uint64 `json:"tail_page"`
	FirstMsg  uint64 `json:"first_message"`
	FreeMsg   uint64 `json:"free_message"`
	PageCount uint64 `json:"page_count"`
}

type channelInfoResp struct {
	ID           types.ChannelID `json:"id"`
	Length       uint32          `json:"length"`
	Head         types.Hash      `json:"head"`
	State        queueStateResp  `json:"state"`
	Registration *channelResp    `json:"registration,omitempty"`
}

type sendReq struct {
	Body string `json:"body"` // base64-encoded
}

type sendResp struct {
	Index  uint64            `json:"index"`
	SentAt types.BlockNumber `json:"sent_at"`
	Head   types.Hash        `json:"head"`
	Length uint32            `json:"length"`
	Cost   costResp          `json:"cost"`
}

type messageResp struct {
	Index  uint64            `json:"index"`
	SentAt types.BlockNumber `json:"sent_at"`
	Body   string            `json:"body"` // base64
}

type readResp struct {
	Messages []messageResp `json:"messages"`
	Head     *types.Hash   `json:"head,omitempty"`
}

type processReq struct {
	Count uint32 `json:"count"`
}

type processResp struct {
	Pruned    uint32   `json:"pruned"`
	Remaining uint32   `json:"remaining"`
	Cost      costResp `json:"cost"`
}

type headResp struct {
	Index uint64     `json:"index"`
	Head  types.Hash `json:"head"`
}

type sessionResp struct {
	Retired []types.ChannelID `json:"retired"`
	Cost    costResp          `json:"cost"`
}

type advanceReq struct {
	Count uint32 `json:"count"`
}

type blockResp struct {
	BlockNumber types.BlockNumber `json:"block_number"`
}

type consistencyResp struct {
	Consistent bool   `json:"consistent"`
	Error      string `json:"error,omitempty"`
}

type healthResp struct {
	Status      string            `json:"status"`
	NodeID      string            `json:"node_id"`
	Channels    int               `json:"channels"`
	BlockNumber types.BlockNumber `json:"block_number"`
	Uptime      string            `json:"uptime"`
	UptimeMs    int64             `json:"uptime_ms"`
	Version     string            `json:"version"`
	DataDir     string            `json:"data_dir"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.broker.Stats()
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:      "ok",
		NodeID:      h.broker.NodeID(),
		Channels:    stats.Channels,
		BlockNumber: stats.BlockNumber,
		Uptime:      elapsed.Round(time.Second).String(),
		UptimeMs:    elapsed.Milliseconds(),
		Version:     "1.0.0",
		DataDir:     h.dataDir,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.broker.Stats()
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type subscribeReq struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

type subscribeResp struct {
	ID string `json:"id"`
}

// ─── Channel registry ─────────────────────────────────────────────────────────

func (h *Handler) registerChannel(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.broker.Register(req.ID, req.Label)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChannelResp(c))
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	list := h.broker.Channels().List()
	out := make([]channelResp, 0, len(list))
	for _, c := range list {
		out = append(out, toChannelResp(c))
	}
	writeJSON(w, http.StatusOK, channelListResp{Channels: out})
}

func (h *Handler) channelInfo(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	info, err := h.broker.Info(r.Context(), ch)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	st := info.State
	resp := channelInfoResp{
		ID:     ch,
		Length: info.Length,
		Head:   info.Head,
		State: queueStateResp{
			HeadPage:  st.RingBuffer.Head.Value(),
			TailPage:  st.RingBuffer.Tail.Value(),
			FirstMsg:  st.MessageWindow.First.Value(),
			FreeMsg:   st.MessageWindow.Free.Value(),
			PageCount: ringbuf.NewRingBuffer(ch, st.RingBuffer).Size(),
		},
	}
	if info.Registration != nil {
		reg := toChannelResp(info.Registration)
		resp.Registration = &reg
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) offboardChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	if err := h.broker.Offboard(ch); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "offboarding"})
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	var req sendReq
	if !decodeJSON(w, r, &req) {
		return
	}
	body, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be base64-encoded"})
		return
	}

	res, err := h.broker.Send(r.Context(), ch, body)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendResp{
		Index:  res.Index,
		SentAt: res.SentAt,
		Head:   res.Head,
		Length: res.Length,
		Cost:   toCost(res.Cost, res.Weight),
	})
}

func (h *Handler) readMessages(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	start, err := parseIntParam(r, "start_page", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	count, err := parseIntParam(r, "page_count", defaultReadPages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if start < 0 || count < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_page and page_count must be non-negative"})
		return
	}
	count = min(count, maxReadPages)

	res, err := h.broker.Read(r.Context(), ch, uint32(min(start, int(^uint32(0)>>1))), uint32(count))
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	out := readResp{Messages: make([]messageResp, 0, len(res.Messages))}
	for i, m := range res.Messages {
		out.Messages = append(out.Messages, messageResp{
			Index:  res.FirstIndex + uint64(i),
			SentAt: m.SentAt,
			Body:   base64.StdEncoding.EncodeToString(m.Msg),
		})
	}
	if len(res.Messages) > 0 {
		out.Head = &res.Head
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) processMessages(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	var req processReq
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.broker.Process(r.Context(), ch, req.Count)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResp{
		Pruned:    res.Pruned,
		Remaining: res.Remaining,
		Cost:      toCost(res.Cost, res.Weight),
	})
}

func (h *Handler) headAt(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	idx, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message index"})
		return
	}
	head, found, err := h.broker.HeadAt(r.Context(), ch, idx)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no queued message at index"})
		return
	}
	writeJSON(w, http.StatusOK, headResp{Index: idx, Head: head})
}

// ─── Admin ────────────────────────────────────────────────────────────────────

func (h *Handler) newSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.broker.NewSession(r.Context())
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	retired := res.Retired
	if retired == nil {
		retired = []types.ChannelID{}
	}
	writeJSON(w, http.StatusOK, sessionResp{Retired: retired, Cost: toCost(res.Cost, res.Weight)})
}

func (h *Handler) advanceBlocks(w http.ResponseWriter, r *http.Request) {
	req := advanceReq{Count: 1}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, blockResp{BlockNumber: h.broker.AdvanceBlock(req.Count)})
}

func (h *Handler) checkConsistency(w http.ResponseWriter, r *http.Request) {
	err := h.broker.CheckConsistency(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, consistencyResp{Consistent: true})
	case errors.Is(err, queue.ErrInconsistent):
		writeJSON(w, http.StatusConflict, consistencyResp{Consistent: false, Error: err.Error()})
	default:
		writeBrokerError(w, err)
	}
}

// ─── Subscriptions (webhook) ──────────────────────────────────────────────────

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	var req subscribeReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	if !validWebhookURL(req.URL) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an http or https URL"})
		return
	}

	id, err := h.consumer.Register(ch, req.URL, req.Secret)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscribeResp{ID: id})
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.consumer.Deregister(r.PathValue("id")); err != nil {
		writeBrokerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// validWebhookURL accepts only plain http or https targets. Private address
// ranges are not filtered; the operator controls what the node can reach.
func validWebhookURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func channelParam(w http.ResponseWriter, r *http.Request) (types.ChannelID, bool) {
	ch, err := types.ParseChannelID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel id"})
		return 0, false
	}
	return ch, true
}

// parseIntParam returns the integer query parameter key, or def when it is
// absent.
func parseIntParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

// statusFor maps broker, engine and registry errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrExceedsMaxMessageSize):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, queue.ErrAdvancementRule), errors.Is(err, queue.ErrUnderflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, broker.ErrNotRegistered):
		return http.StatusForbidden
	case errors.Is(err, broker.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, channel.ErrNotFound), errors.Is(err, consumer.ErrSubscriptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrAlreadyExists), errors.Is(err, channel.ErrOffboarding),
		errors.Is(err, consumer.ErrChannelSubscribed):
		return http.StatusConflict
	case errors.Is(err, channel.ErrInvalidLabel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeBrokerError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
