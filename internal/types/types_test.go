package types

import "testing"

func TestDeliveryStatusAdvance(t *testing.T) {
	tests := []struct {
		name string
		from DeliveryStatus
		to   DeliveryStatus
		want DeliveryStatus
	}{
		{"pending to sent", DeliveryPending, DeliverySent, DeliverySent},
		{"sent to delivered", DeliverySent, DeliveryDelivered, DeliveryDelivered},
		{"delivered to read", DeliveryDelivered, DeliveryRead, DeliveryRead},
		{"read never regresses", DeliveryRead, DeliveryDelivered, DeliveryRead},
		{"delivered never regresses", DeliveryDelivered, DeliverySent, DeliveryDelivered},
		{"sent never regresses", DeliverySent, DeliveryPending, DeliverySent},
		{"pending straight to read", DeliveryPending, DeliveryRead, DeliveryRead},
		{"failed is terminal", DeliveryFailed, DeliverySent, DeliveryFailed},
	}

	for _, tt := range tests {
		if got := tt.from.Advance(tt.to); got != tt.want {
			t.Errorf("%s: Advance(%s -> %s) = %s, want %s", tt.name, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConfirmedRequiresIDAndServerTS(t *testing.T) {
	msg := Message{CorrelationID: "c1", CreatedAtLocal: 100}
	if msg.Confirmed() {
		t.Error("speculative message reported confirmed")
	}

	msg.ID = "msg-1"
	if msg.Confirmed() {
		t.Error("message with id but no server timestamp reported confirmed")
	}

	msg.CreatedAtServer = 200
	if !msg.Confirmed() {
		t.Error("message with id and server timestamp not confirmed")
	}
}

func TestEffectiveTSPrefersServer(t *testing.T) {
	msg := Message{CreatedAtLocal: 50, CreatedAtServer: 90}
	if got := msg.EffectiveTS(); got != 90 {
		t.Errorf("EffectiveTS = %d, want server ts 90", got)
	}

	msg.CreatedAtServer = 0
	if got := msg.EffectiveTS(); got != 50 {
		t.Errorf("EffectiveTS = %d, want local ts 50", got)
	}
}

func TestAddIDGrowOnly(t *testing.T) {
	ids := []string{"u1"}
	ids = AddID(ids, "u2")
	ids = AddID(ids, "u1") // duplicate ignored
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	if ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("order not preserved: %v", ids)
	}
}

func TestWindowLimitByIdentityClass(t *testing.T) {
	guest := Identity{UserID: "g-1"}
	if got := guest.WindowLimit(); got != 50 {
		t.Errorf("guest window = %d, want 50", got)
	}
	user := Identity{UserID: "u-1", Authenticated: true}
	if got := user.WindowLimit(); got != 100 {
		t.Errorf("authenticated window = %d, want 100", got)
	}
}
