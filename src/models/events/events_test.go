package events

import "testing"

func TestEventParse(t *testing.T) {
	var e Event
	if err := e.Parse("opensentry/cam1/status"); err != nil {
		t.Fatal(err)
	}
	if e.Namespace != "opensentry" || e.CameraId != "cam1" || e.Kind != KindStatus {
		t.Errorf("unexpected event %+v", e)
	}
	if e.String() != "opensentry/cam1/status" {
		t.Errorf("unexpected topic %s", e.String())
	}
}

func TestEventParseMalformed(t *testing.T) {
	for _, topic := range []string{"", "opensentry", "opensentry//status", "a/b/c/d", "opensentry/cam1/"} {
		var e Event
		if err := e.Parse(topic); err == nil {
			t.Errorf("expected %q to be rejected", topic)
		}
	}
}

func TestSubscription(t *testing.T) {
	if s := Subscription("lab", KindMotion); s != "lab/+/motion" {
		t.Errorf("unexpected subscription %s", s)
	}
}
