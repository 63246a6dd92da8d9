package stealth

import "testing"

func TestProfileFor_StablePerKey(t *testing.T) {
	// WHAT: The same session key always yields the identical profile.
	// WHY: Re-sampling mid-session is an inconsistency the portal can detect.
	p := NewProvider(Config{Seed: 42})

	first := p.ProfileFor("wechat")
	for i := 0; i < 20; i++ {
		if got := p.ProfileFor("wechat"); got != first {
			t.Fatalf("call %d returned a different profile pointer", i)
		}
	}
}

func TestProfileFor_DistinctKeysIndependent(t *testing.T) {
	p := NewProvider(Config{Seed: 1})

	a := p.ProfileFor("wechat")
	b := p.ProfileFor("zhihu")
	if a == b {
		t.Fatal("distinct session keys share one profile instance")
	}
	// Both must be drawn from the configured tables.
	for _, prof := range []*Profile{a, b} {
		if prof.UserAgent == "" || prof.ViewportWidth == 0 || prof.AcceptLanguage == "" {
			t.Errorf("incomplete profile: %+v", prof)
		}
	}
}

func TestProfileFor_SampledFromTables(t *testing.T) {
	cfg := Config{
		UserAgents:      []string{"ua-only"},
		Viewports:       []Viewport{{800, 600}},
		AcceptLanguages: []string{"fr-FR"},
		Seed:            7,
	}
	p := NewProvider(cfg)
	prof := p.ProfileFor("k")

	if prof.UserAgent != "ua-only" {
		t.Errorf("user agent = %q, want table value", prof.UserAgent)
	}
	if prof.ViewportWidth != 800 || prof.ViewportHeight != 600 {
		t.Errorf("viewport = %dx%d, want 800x600", prof.ViewportWidth, prof.ViewportHeight)
	}
	if prof.AcceptLanguage != "fr-FR" {
		t.Errorf("accept-language = %q", prof.AcceptLanguage)
	}
}

func TestRestore_OverridesSampling(t *testing.T) {
	// WHAT: A profile loaded from a persisted session pins the key.
	// WHY: Restored sessions must keep presenting their original fingerprint.
	p := NewProvider(Config{Seed: 3})
	saved := &Profile{UserAgent: "persisted-ua", ViewportWidth: 1024, ViewportHeight: 768}

	p.Restore("wechat", saved)
	if got := p.ProfileFor("wechat"); got != saved {
		t.Fatalf("ProfileFor returned %+v, want restored profile", got)
	}
}

func TestLaunchFlags_AntiAutomation(t *testing.T) {
	flags := LaunchFlags()
	if flags["disable-blink-features"] != "AutomationControlled" {
		t.Error("missing AutomationControlled blink disable")
	}
}
