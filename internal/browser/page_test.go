package browser

import "testing"

// fakeAccessor lets domsig-adjacent tests exercise the PageAccessor contract
// without a real browser.
type fakeAccessor struct {
	url      string
	elements []ElementInfo
}

func (f *fakeAccessor) URL() string { return f.url }
func (f *fakeAccessor) Snapshot() (*Snapshot, error) {
	return &Snapshot{URL: f.url, Elements: f.elements}, nil
}

func TestFakeAccessorSatisfiesInterface(t *testing.T) {
	var acc PageAccessor = &fakeAccessor{
		url: "https://example.com/login",
		elements: []ElementInfo{
			{Tag: "form", Attributes: map[string]string{"id": "login-form"}},
			{Tag: "button", Role: "button", Attributes: map[string]string{"data-testid": "submit"}},
		},
	}

	snap, err := acc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(snap.Elements))
	}
	if acc.URL() != "https://example.com/login" {
		t.Fatalf("unexpected URL: %s", acc.URL())
	}
}
