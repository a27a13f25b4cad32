package directory

import (
	"errors"
	"testing"
)

func TestCreateAndGet(t *testing.T) {
	d := New(nil)

	c, err := d.Create(Channel{ID: "general", Name: "General", Kind: Text, ServerID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if c.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}

	got, err := d.Get("general")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != Text || got.Direct() {
		t.Errorf("got %+v, want server text channel", got)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	d := New(nil)
	c, err := d.Create(Channel{Name: "dm", Kind: Text})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == "" {
		t.Fatal("expected generated ID")
	}
	if !c.Direct() {
		t.Error("channel without server should be direct")
	}
}

func TestCreateRejects(t *testing.T) {
	d := New(nil)
	if _, err := d.Create(Channel{ID: "a", Kind: "stage"}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("err = %v, want ErrInvalidKind", err)
	}
	if _, err := d.Create(Channel{ID: "a", Kind: Voice}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Create(Channel{ID: "a", Kind: Text}); !errors.Is(err, ErrDuplicateChannel) {
		t.Errorf("err = %v, want ErrDuplicateChannel", err)
	}
	// Kind of the original record is unchanged.
	c, _ := d.Get("a")
	if c.Kind != Voice {
		t.Errorf("kind = %s, want voice", c.Kind)
	}
}

func TestGetUnknown(t *testing.T) {
	d := New(nil)
	if _, err := d.Get("missing"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestListSorted(t *testing.T) {
	d := New(nil)
	d.Restore([]Channel{{ID: "c", Kind: Text}, {ID: "a", Kind: Voice}, {ID: "b", Kind: Text}})
	list := d.List()
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Errorf("list = %+v, want a,b,c", list)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"text", Text, false},
		{"VOICE", Voice, false},
		{"", "", true},
		{"video", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}
