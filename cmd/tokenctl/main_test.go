package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"tokenledger/token"
)

func testParty(name string, b byte) token.Party {
	var k token.KeyID
	k[0] = b
	return token.Party{Name: name, Key: k}
}

func TestValidate(t *testing.T) {
	issuer := testParty("O=Issuer,L=London,C=GB", 1)
	owner := testParty("O=Alice,L=Paris,C=FR", 2)

	cases := []struct {
		desc   string
		p      token.Proposal
		wantOK bool
		want   string
	}{
		{
			desc: "accepted issue",
			p: token.Proposal{
				Kind:    token.Issue,
				Outputs: []token.Record{token.NewRecord(issuer, owner, 1)},
				Signers: []token.KeyID{issuer.Key},
			},
			wantOK: true,
			want:   "accept\n",
		},
		{
			desc: "issue signed by owner",
			p: token.Proposal{
				Kind:    token.Issue,
				Outputs: []token.Record{token.NewRecord(issuer, owner, 1)},
				Signers: []token.KeyID{owner.Key},
			},
			want: "only issuer must sign: Only the issuer should sign the issuance.\n",
		},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.p)
		if err != nil {
			t.Fatal(err)
		}
		var out bytes.Buffer
		ok, err := validate(bytes.NewReader(b), &out)
		if err != nil {
			t.Fatalf("%s: %v", c.desc, err)
		}
		if ok != c.wantOK || out.String() != c.want {
			t.Errorf("%s: validate = %v, %q want %v, %q", c.desc, ok, out.String(), c.wantOK, c.want)
		}
	}
}

func TestValidateBadInput(t *testing.T) {
	for _, in := range []string{"{", `{"kind":"mint"}`, `{}`} {
		_, err := validate(strings.NewReader(in), new(bytes.Buffer))
		if err == nil {
			t.Errorf("validate(%q) succeeded", in)
		}
	}
}

func TestParty(t *testing.T) {
	want := testParty("O=Bob", 7)
	got, err := party("O=Bob", want.Key.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("party = %v want %v", got, want)
	}
	if _, err := party("O=Bob", "beef"); err == nil {
		t.Error("short key accepted")
	}
	if _, err := party("O=Bob", token.KeyID{}.String()); err == nil {
		t.Error("zero key accepted")
	}
}

func TestPrintBalances(t *testing.T) {
	a := testParty("A", 1)
	b := testParty("B", 2)
	var out bytes.Buffer
	printBalances(&out, map[token.Party]int64{b: 3, a: 9})
	want := "A\t" + a.Key.String() + "\t9\n" + "B\t" + b.Key.String() + "\t3\n"
	if out.String() != want {
		t.Errorf("printBalances =\n%s\nwant\n%s", out.String(), want)
	}
}
