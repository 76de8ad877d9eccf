package paramcodec

import (
	"encoding/json"
	"testing"

	"github.com/helixsec/studio-go/pkg/types"
)

var testFields = []types.ParamField{
	{Key: "url", Kind: types.ParamString},
	{Key: "method", Kind: types.ParamEnum, Options: []string{"GET", "POST"}},
	{Key: "timeout", Kind: types.ParamNumber},
	{Key: "follow", Kind: types.ParamBoolean},
	{Key: "wordlist", Kind: types.ParamArray},
	{Key: "headers", Kind: types.ParamObject},
}

func TestDraft_RoundTrip(t *testing.T) {
	params := map[string]json.RawMessage{
		"url":      json.RawMessage(`"https://example.com"`),
		"method":   json.RawMessage(`"POST"`),
		"timeout":  json.RawMessage(`30`),
		"follow":   json.RawMessage(`true`),
		"wordlist": json.RawMessage(`["admin","login"]`),
		"headers":  json.RawMessage(`{"X-Test":"1"}`),
	}

	d := NewDraft(testFields, params)
	out, err := d.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for _, key := range []string{"url", "method", "timeout", "follow"} {
		if string(out[key]) != string(params[key]) {
			t.Errorf("%s: round trip changed %s to %s", key, params[key], out[key])
		}
	}
	var gotList, wantList []string
	if err := json.Unmarshal(out["wordlist"], &gotList); err != nil {
		t.Fatalf("wordlist not an array: %v", err)
	}
	json.Unmarshal(params["wordlist"], &wantList)
	if len(gotList) != len(wantList) || gotList[0] != wantList[0] {
		t.Errorf("wordlist round trip: got %v want %v", gotList, wantList)
	}

	var gotObj map[string]string
	if err := json.Unmarshal(out["headers"], &gotObj); err != nil {
		t.Fatalf("headers not an object: %v", err)
	}
	if gotObj["X-Test"] != "1" {
		t.Errorf("headers round trip lost data: %v", gotObj)
	}
}

func TestDraft_Number(t *testing.T) {
	d := NewDraft(testFields, nil)

	t.Run("valid number commits", func(t *testing.T) {
		if err := d.SetText("timeout", "12.5"); err != nil {
			t.Fatalf("SetText failed: %v", err)
		}
		out, err := d.Commit()
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if string(out["timeout"]) != "12.5" {
			t.Errorf("expected 12.5, got %s", out["timeout"])
		}
	})

	t.Run("integer stays integer", func(t *testing.T) {
		d.SetText("timeout", "30")
		out, _ := d.Commit()
		if string(out["timeout"]) != "30" {
			t.Errorf("expected 30 without decimal, got %s", out["timeout"])
		}
	})

	t.Run("garbage is rejected at commit", func(t *testing.T) {
		d.SetText("timeout", "fast")
		if _, err := d.Commit(); err == nil {
			t.Error("expected commit error for non-numeric text")
		}
		d.SetText("timeout", "")
	})
}

func TestDraft_Boolean(t *testing.T) {
	d := NewDraft(testFields, nil)

	v, _ := d.Value("follow")
	if v.Bool != nil {
		t.Error("untouched boolean should be unset")
	}

	out, err := d.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, present := out["follow"]; present {
		t.Error("unset boolean must be omitted")
	}

	if err := d.SetBool("follow", false); err != nil {
		t.Fatalf("SetBool failed: %v", err)
	}
	out, _ = d.Commit()
	if string(out["follow"]) != "false" {
		t.Errorf("explicit false must be kept, got %s", out["follow"])
	}

	if err := d.SetBool("url", true); err == nil {
		t.Error("SetBool on a string field must fail")
	}
}

func TestDraft_Array(t *testing.T) {
	d := NewDraft(testFields, nil)

	t.Run("lines become string elements", func(t *testing.T) {
		d.SetText("wordlist", "admin\nlogin\n\n  panel  \n")
		out, err := d.Commit()
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		var got []string
		json.Unmarshal(out["wordlist"], &got)
		want := []string{"admin", "login", "panel"}
		if len(got) != len(want) {
			t.Fatalf("got %v want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("element %d: got %q want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("JSON array takes priority over line split", func(t *testing.T) {
		d.SetText("wordlist", `[1, 2, 3]`)
		out, err := d.Commit()
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		var got []int
		if err := json.Unmarshal(out["wordlist"], &got); err != nil {
			t.Fatalf("expected numeric array preserved: %v", err)
		}
		if len(got) != 3 || got[0] != 1 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("malformed JSON array falls back to lines", func(t *testing.T) {
		d.SetText("wordlist", "[broken\nlines")
		out, err := d.Commit()
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		var got []string
		json.Unmarshal(out["wordlist"], &got)
		if len(got) != 2 || got[0] != "[broken" {
			t.Errorf("got %v", got)
		}
	})
}

func TestDraft_Object(t *testing.T) {
	d := NewDraft(testFields, nil)

	t.Run("flags bad JSON while typing", func(t *testing.T) {
		d.SetText("headers", `{"oops"`)
		v, _ := d.Value("headers")
		if v.JSONErr == "" {
			t.Error("expected JSONErr set for malformed object")
		}
		if _, err := d.Commit(); err == nil {
			t.Error("commit must fail while object text is invalid")
		}
	})

	t.Run("clears flag when fixed", func(t *testing.T) {
		d.SetText("headers", `{"Accept": "text/html"}`)
		v, _ := d.Value("headers")
		if v.JSONErr != "" {
			t.Errorf("expected JSONErr cleared, got %q", v.JSONErr)
		}
		out, err := d.Commit()
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		if string(out["headers"]) != `{"Accept":"text/html"}` {
			t.Errorf("expected compacted object, got %s", out["headers"])
		}
	})
}

func TestDraft_Extras(t *testing.T) {
	params := map[string]json.RawMessage{
		"url":        json.RawMessage(`"https://example.com"`),
		"deprecated": json.RawMessage(`{"keep":"me"}`),
	}
	d := NewDraft(testFields, params)

	extras := d.ExtraKeys()
	if len(extras) != 1 || extras[0] != "deprecated" {
		t.Fatalf("expected deprecated in extras, got %v", extras)
	}

	out, err := d.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if string(out["deprecated"]) != `{"keep":"me"}` {
		t.Errorf("schema-less param must survive commit, got %s", out["deprecated"])
	}
}

func TestDraft_Clear(t *testing.T) {
	params := map[string]json.RawMessage{
		"url": json.RawMessage(`"https://example.com"`),
	}
	d := NewDraft(testFields, params)

	if err := d.Clear("url"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	out, _ := d.Commit()
	if _, present := out["url"]; present {
		t.Error("cleared field must be omitted")
	}

	if err := d.Clear("nope"); err != ErrUnknownField {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}
