package remote

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/hoodly/hoodlysync/internal/gateway"
	"github.com/hoodly/hoodlysync/internal/models"
)

// stubGateway records calls and plays back canned rows per table.
type stubGateway struct {
	selectRows  map[string]any
	updateRows  map[string]any
	insertRows  map[string]any
	callErr     error
	lastUpdate  url.Values
	lastCall    string
	lastPayload any
}

func (g *stubGateway) Select(_ context.Context, table string, _ url.Values, out any) error {
	return playback(g.selectRows[table], out)
}

func (g *stubGateway) Insert(_ context.Context, table string, body, out any) error {
	g.lastPayload = body
	return playback(g.insertRows[table], out)
}

func (g *stubGateway) Update(_ context.Context, table string, query url.Values, body, out any) error {
	g.lastUpdate = query
	g.lastPayload = body
	return playback(g.updateRows[table], out)
}

func (g *stubGateway) Call(_ context.Context, procedure string, args, out any) error {
	g.lastCall = procedure
	g.lastPayload = args
	return g.callErr
}

func playback(rows, out any) error {
	if out == nil || rows == nil {
		return nil
	}
	switch dst := out.(type) {
	case *[]models.InviteLink:
		*dst = rows.([]models.InviteLink)
	case *[]models.InviteUsage:
		*dst = rows.([]models.InviteUsage)
	case *[]models.Message:
		*dst = rows.([]models.Message)
	case *[]models.Post:
		*dst = rows.([]models.Post)
	default:
		return errors.New("stub gateway: unsupported destination")
	}
	return nil
}

func TestRESTInviteStoreRedeemConditionalFilter(t *testing.T) {
	link := models.InviteLink{
		ID:          "link-1",
		Code:        "AB12CD34",
		MaxUses:     1,
		CurrentUses: 0,
		IsActive:    true,
	}

	gw := &stubGateway{updateRows: map[string]any{
		"invite_links": []models.InviteLink{{ID: "link-1", Code: "AB12CD34", MaxUses: 1, CurrentUses: 1, IsActive: false}},
	}}
	store := NewRESTInviteStore(gw)

	updated, err := store.Redeem(context.Background(), link)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if updated.CurrentUses != 1 || updated.IsActive {
		t.Fatalf("expected exhausted link, got %+v", updated)
	}

	// The update must be conditional on the observed counter and active flag.
	if got := gw.lastUpdate.Get("current_uses"); got != "eq.0" {
		t.Fatalf("expected current_uses filter eq.0 got %q", got)
	}
	if got := gw.lastUpdate.Get("is_active"); got != "eq.true" {
		t.Fatalf("expected is_active filter eq.true got %q", got)
	}

	body, ok := gw.lastPayload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type %T", gw.lastPayload)
	}
	if body["current_uses"] != 1 || body["is_active"] != false {
		t.Fatalf("unexpected redeem body %+v", body)
	}
}

func TestRESTInviteStoreRedeemLostRace(t *testing.T) {
	gw := &stubGateway{updateRows: map[string]any{
		"invite_links": []models.InviteLink{},
	}}
	store := NewRESTInviteStore(gw)

	link := models.InviteLink{Code: "AB12CD34", MaxUses: 1, CurrentUses: 0, IsActive: true}
	if _, err := store.Redeem(context.Background(), link); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed got %v", err)
	}
}

func TestRESTInviteStoreFindByCodeMissing(t *testing.T) {
	gw := &stubGateway{selectRows: map[string]any{
		"invite_links": []models.InviteLink{},
	}}
	store := NewRESTInviteStore(gw)

	if _, err := store.FindByCode(context.Background(), "ZZ99ZZ99"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestRESTPostStoreToggleLikeUsesProcedure(t *testing.T) {
	gw := &stubGateway{}
	store := NewRESTPostStore(gw)

	if err := store.ToggleLike(context.Background(), "post-1", "user-1"); err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	if gw.lastCall != "toggle_post_like" {
		t.Fatalf("expected toggle_post_like procedure got %q", gw.lastCall)
	}
}

func TestRESTMessageStoreHistoryPrivatePair(t *testing.T) {
	now := time.Now().UTC()
	gw := &stubGateway{selectRows: map[string]any{
		"messages": []models.Message{{ID: "msg-1", SenderID: "a", ReceiverID: "b", CreatedAt: now}},
	}}
	store := NewRESTMessageStore(gw)

	messages, err := store.History(context.Background(), ConversationFilter{SelfID: "a", PeerID: "b"}, 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "msg-1" {
		t.Fatalf("unexpected history %+v", messages)
	}
}
