package classify

import "testing"

func TestClassifyCanonicalInputs(t *testing.T) {
	cases := []struct {
		query string
		want  Tag
	}{
		{"hi", TagGreeting},
		{"hello there", TagGreeting},
		{"I'm getting an error when I save", TagError},
		{"what is a lease addendum", TagDefinition},
		{"how do I upload photos", TagHowTo},
		{"what is the approval workflow for maintenance requests", TagWorkflow},
		{"tell me about the weather", TagGeneral},
	}
	for _, tc := range cases {
		tag, conf := Classify(tc.query)
		if tag != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.query, tag, tc.want)
		}
		if tag == TagGeneral {
			if conf != fallbackConfidence {
				t.Errorf("Classify(%q) confidence = %v, want %v", tc.query, conf, fallbackConfidence)
			}
		} else if conf < matchConfidence {
			t.Errorf("Classify(%q) confidence = %v, want >= %v", tc.query, conf, matchConfidence)
		}
	}
}

func TestGreetingDoesNotMatchSubstantiveClause(t *testing.T) {
	tag, _ := Classify("hi, what is a lease addendum?")
	if tag == TagGreeting {
		t.Errorf("expected non-greeting classification for compound input, got %q", tag)
	}
}

func TestDefinitionExcludesErrorMentions(t *testing.T) {
	tag, _ := Classify("what does this error mean")
	if tag != TagError {
		t.Errorf("Classify() = %q, want %q", tag, TagError)
	}
}

func TestClassifyEmptyQuery(t *testing.T) {
	tag, conf := Classify("   ")
	if tag != TagGeneral || conf != fallbackConfidence {
		t.Errorf("Classify(empty) = (%q, %v), want (%q, %v)", tag, conf, TagGeneral, fallbackConfidence)
	}
}

func TestIsLikelyFollowup(t *testing.T) {
	if !IsLikelyFollowup("can you remind me what to click") {
		t.Errorf("expected follow-up heuristic to fire")
	}
	if IsLikelyFollowup("how do I reset my password for the tenant portal") {
		t.Errorf("did not expect follow-up heuristic to fire on a self-contained question")
	}
}
