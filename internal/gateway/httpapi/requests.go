package httpapi

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/lifecycle"
)

const maxListLimit = 100

// DecisionRequest is the JSON body for POST /v1/requests/{kind}/{id}/decision.
type DecisionRequest struct {
	Decision string `json:"decision"` // "approve" or "deny"
	Notes    string `json:"notes,omitempty"`
}

// handleListMine handles GET /v1/requests?kind=&status=&limit=.
func (g *Gateway) handleListMine(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	q, err := parseQuery(c.Query("kind"), c.Query("status"), c.Query("limit"))
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	out, err := g.requests.ListMine(c.Context(), userID, q)
	if err != nil {
		return abortWith(c, err)
	}
	return c.OK(out)
}

// handleListPending handles GET /v1/requests/pending: requests from the
// caller's direct reports that await the caller's decision.
func (g *Gateway) handleListPending(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	q, err := parseQuery("", "", c.Query("limit"))
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	out, err := g.requests.ListPendingForManager(c.Context(), userID, q.Limit)
	if err != nil {
		return abortWith(c, err)
	}
	return c.OK(out)
}

func (g *Gateway) handleDecision(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	kind, id, err := parseRequestRef(c.Param("kind"), c.Param("id"))
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return abortBind(c, err)
	}
	approve, err := parseDecision(req.Decision)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	g.logger.InfoContext(c.Context(), "http decision",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.String("request_id", id.String()),
		slog.Bool("approve", approve),
	)

	out, err := g.requests.Decide(c.Context(), lifecycle.Decision{
		Kind:       kind,
		RequestID:  id,
		ApproverID: userID,
		Approve:    approve,
		Notes:      req.Notes,
	})
	if err != nil {
		return abortWith(c, err)
	}
	return c.OK(out)
}

func (g *Gateway) handleCancel(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	kind, id, err := parseRequestRef(c.Param("kind"), c.Param("id"))
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	out, err := g.requests.Cancel(c.Context(), domain.Actor{ID: userID, Kind: domain.ActorHuman}, kind, id)
	if err != nil {
		return abortWith(c, err)
	}
	return c.OK(out)
}

// --- Parsing ---

func parseRequestRef(kindParam, idParam string) (domain.RequestKind, uuid.UUID, error) {
	kind, ok := domain.ParseRequestKind(strings.ToLower(kindParam))
	if !ok {
		return "", uuid.Nil, fmt.Errorf("unknown request kind %q", kindParam)
	}
	id, err := uuid.Parse(idParam)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid request ID")
	}
	return kind, id, nil
}

func parseDecision(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return true, nil
	case "deny", "denied", "reject":
		return false, nil
	}
	return false, fmt.Errorf("decision must be \"approve\" or \"deny\"")
}

func parseQuery(kind, status, limit string) (lifecycle.Query, error) {
	var q lifecycle.Query
	if kind != "" {
		k, ok := domain.ParseRequestKind(strings.ToLower(kind))
		if !ok {
			return q, fmt.Errorf("unknown request kind %q", kind)
		}
		q.Kind = k
	}
	if status != "" {
		s, ok := domain.ParseStatus(strings.ToLower(status))
		if !ok {
			return q, fmt.Errorf("unknown status %q", status)
		}
		q.Status = s
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return q, fmt.Errorf("limit must be a positive integer")
		}
		q.Limit = min(n, maxListLimit)
	}
	return q, nil
}
