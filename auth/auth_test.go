package auth

import (
	"net/url"
	"testing"

	. "github.com/onsi/gomega"
)

func TestParseChallengesSingle(t *testing.T) {
	g := NewWithT(t)

	out := ParseChallenges(`Basic realm="r"`)
	g.Expect(out).To(HaveLen(1))
	g.Expect(out[0].Scheme).To(Equal("Basic"))
	g.Expect(out[0].Realm).To(Equal("r"))
}

func TestParseChallengesCommaInsideQuotes(t *testing.T) {
	g := NewWithT(t)

	out := ParseChallenges(`Digest realm="a, b", qop="auth"`)
	g.Expect(out).To(HaveLen(1))
	g.Expect(out[0].Scheme).To(Equal("Digest"))
	g.Expect(out[0].Realm).To(Equal("a, b"))
}

func TestParseChallengesMultiple(t *testing.T) {
	g := NewWithT(t)

	out := ParseChallenges(`Basic realm="r1", Digest realm="r2"`)
	g.Expect(out).To(HaveLen(2))
	g.Expect(out[0].Scheme).To(Equal("Basic"))
	g.Expect(out[1].Scheme).To(Equal("Digest"))
}

func TestParseChallengesEmpty(t *testing.T) {
	g := NewWithT(t)
	g.Expect(ParseChallenges("")).To(BeEmpty())
}

func TestBasicStoreMatchChallenge(t *testing.T) {
	g := NewWithT(t)

	store := NewBasicStore()
	u, _ := url.Parse("http://example.com/private/page")
	space := SpaceOf(u)
	creds := BasicCredentials{Username: "alice", Password: "secret"}
	store.Add(space, creds)

	matched := store.MatchChallenge(space, Challenge{Scheme: "Basic", Realm: "r"})
	g.Expect(matched).NotTo(BeNil())
	g.Expect(matched.AuthorizationHeader(Challenge{})).To(Equal("Basic YWxpY2U6c2VjcmV0"))

	g.Expect(store.MatchChallenge(space, Challenge{Scheme: "Digest"})).To(BeNil())
}

func TestBasicStoreSuccessPathAndDiscard(t *testing.T) {
	g := NewWithT(t)

	store := NewBasicStore()
	u, _ := url.Parse("http://example.com/private/page")
	space := SpaceOf(u)
	creds := BasicCredentials{Username: "alice", Password: "secret"}
	store.Add(space, creds)

	g.Expect(store.TestURL(u)).To(BeNil())

	store.AddSuccessPath(u, creds)
	g.Expect(store.TestURL(u)).To(Equal(Credentials(creds)))

	store.Discard(creds)
	g.Expect(store.TestURL(u)).To(BeNil())
	g.Expect(store.MatchChallenge(space, Challenge{Scheme: "Basic"})).To(BeNil())
}

func TestSpaceOfIgnoresPath(t *testing.T) {
	g := NewWithT(t)

	a, _ := url.Parse("http://example.com:8080/a")
	b, _ := url.Parse("http://example.com:8080/b")
	g.Expect(SpaceOf(a)).To(Equal(SpaceOf(b)))
}
