package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/model"
)

type statusResponse struct {
	Status      string          `json:"status"`
	Version     string          `json:"version"`
	ChainHeight int64           `json:"chain_height"`
	PeerCount   int             `json:"peer_count"`
	Validator   validatorStatus `json:"validator"`
	DiskUsage   string          `json:"disk_usage,omitempty"`
}

// diskUsageReporter is satisfied by storage.BadgerStore; narrower
// Store implementations (e.g. test doubles) simply omit the field.
type diskUsageReporter interface {
	DiskUsage() string
}

type validatorStatus struct {
	Stake       int64 `json:"stake"`
	IsValidator bool  `json:"is_validator"`
}

// version is stamped at build time in a real release; no versioning
// scheme is fixed yet, so a development string is used for now.
const version = "axiom-dev"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	height, err := s.store.ChainHeight()
	if err != nil {
		writeError(w, err)
		return
	}

	fp, err := s.identity.Fingerprint()
	if err != nil {
		writeError(w, err)
		return
	}
	var vs validatorStatus
	if v, err := s.store.GetValidator(fp); err == nil {
		vs = validatorStatus{Stake: v.Stake, IsValidator: v.Active()}
	}

	var diskUsage string
	if du, ok := s.store.(diskUsageReporter); ok {
		diskUsage = du.DiskUsage()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "ok",
		Version:     version,
		ChainHeight: height,
		PeerCount:   s.peers.PeerCount(),
		Validator:   vs,
		DiskUsage:   diskUsage,
	})
}

func (s *Server) handleChainHeight(w http.ResponseWriter, r *http.Request) {
	height, err := s.store.ChainHeight()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "height": height})
}

func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, axerr.Newf(axerr.Protocol, "invalid since parameter %q", raw))
			return
		}
		since = v
	}

	tip, err := s.store.ChainHeight()
	if err != nil {
		writeError(w, err)
		return
	}

	blocks := make([]*model.Block, 0, config.BlocksReplySize)
	for h := since; h <= tip && len(blocks) < config.BlocksReplySize; h++ {
		b, err := s.store.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "blocks": blocks})
}

type peerView struct {
	Addr       string `json:"addr"`
	PubKey     string `json:"pubkey"`
	Reputation int    `json:"reputation"`
	LastSeen   int64  `json:"last_seen"`
}

func (s *Server) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	records, err := s.peers.Peers()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]peerView, 0, len(records))
	for _, p := range records {
		views = append(views, peerView{
			Addr:       p.NetAddress,
			PubKey:     string(p.PublicKey),
			Reputation: p.Reputation,
			LastSeen:   p.LastSeen.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "peers": views})
}

func (s *Server) handleGetFactIDs(w http.ResponseWriter, r *http.Request) {
	hashes, err := s.store.ListFactHashes()
	if err != nil {
		writeError(w, err)
		return
	}
	ids := make([]int64, 0, len(hashes))
	for _, h := range hashes {
		f, err := s.store.GetFactByHash(h)
		if err != nil {
			continue
		}
		ids = append(ids, f.ID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ids": ids})
}

type getFactsByIDRequest struct {
	FactIDs []int64 `json:"fact_ids"`
}

func (s *Server) handleGetFactsByID(w http.ResponseWriter, r *http.Request) {
	var req getFactsByIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, axerr.New(axerr.Protocol, err))
		return
	}

	facts := make([]*model.Fact, 0, len(req.FactIDs))
	for _, id := range req.FactIDs {
		f, err := s.store.GetFactByID(id)
		if err != nil {
			continue
		}
		facts = append(facts, f)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "facts": facts})
}

type stakeRequest struct {
	StakeAmount int64 `json:"stake_amount"`
}

func (s *Server) handleValidatorStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, axerr.New(axerr.Protocol, err))
		return
	}
	if req.StakeAmount < 0 {
		writeError(w, axerr.Newf(axerr.Protocol, "stake_amount must be non-negative"))
		return
	}

	fp, err := s.identity.Fingerprint()
	if err != nil {
		writeError(w, err)
		return
	}
	pub, err := s.identity.PublicKeyBytes()
	if err != nil {
		writeError(w, err)
		return
	}

	v, err := s.store.GetValidator(fp)
	if err != nil {
		v = &model.ValidatorRecord{Fingerprint: fp, PublicKey: pub}
	}
	v.Stake = req.StakeAmount
	if err := s.store.UpsertValidator(v); err != nil {
		writeError(w, err)
		return
	}

	// Flood the updated stake to every connected peer so every node's
	// LeaderFor computation converges on the same active validator set.
	if err := s.peers.AnnounceValidator(v); err != nil {
		s.logger.WithError(err).Warn("announcing validator stake to peers")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ok": true, "total_stake": v.Stake})
}

// handleChat answers for a search/synthesis façade this node does not
// implement itself; that collaborator lives outside the node, so the
// route reports NotFound rather than silently faking a result.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	writeError(w, axerr.Newf(axerr.NotFound, "chat synthesis is served by an external collaborator, not this node"))
}

func (s *Server) handleDebugProposeBlock(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Debug || s.proposer == nil {
		writeError(w, axerr.Newf(axerr.NotFound, "debug endpoints disabled"))
		return
	}
	if err := s.proposer.ForcePropose(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}
