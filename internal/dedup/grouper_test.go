package dedup

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/goodpocket/curator/internal/fingerprint"
)

// memIndex is an in-memory Index for grouper tests.
type memIndex struct {
	buckets map[int64][]Candidate
	members map[uuid.UUID][]uuid.UUID
}

func newMemIndex() *memIndex {
	return &memIndex{
		buckets: make(map[int64][]Candidate),
		members: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *memIndex) CandidatesByBucket(_ context.Context, _ uuid.UUID, bucketKey int64) ([]Candidate, error) {
	return m.buckets[bucketKey], nil
}

func (m *memIndex) CreateGroup(_ context.Context, _, representative uuid.UUID, fp uint64, bucketKey int64) (uuid.UUID, error) {
	id := uuid.New()
	m.buckets[bucketKey] = append(m.buckets[bucketKey], Candidate{GroupID: id, Fingerprint: fp})
	m.members[id] = []uuid.UUID{representative}
	return id, nil
}

func (m *memIndex) AddMember(_ context.Context, groupID, bookmarkID uuid.UUID) error {
	m.members[groupID] = append(m.members[groupID], bookmarkID)
	return nil
}

type GrouperSuite struct {
	suite.Suite
	index   *memIndex
	grouper *Grouper
	owner   uuid.UUID
}

func TestGrouperSuite(t *testing.T) {
	suite.Run(t, new(GrouperSuite))
}

func (s *GrouperSuite) SetupTest() {
	s.index = newMemIndex()
	s.grouper = NewGrouper(s.index)
	s.owner = uuid.New()
}

func (s *GrouperSuite) assign(fp uint64) uuid.UUID {
	id, err := s.grouper.Assign(context.Background(), s.owner, uuid.New(), fp, true)
	s.Require().NoError(err)
	return id
}

func (s *GrouperSuite) TestIdenticalFingerprintsShareGroup() {
	fp := fingerprint.Compute("the quick brown fox jumps over the lazy dog")
	g1 := s.assign(fp)
	g2 := s.assign(fp)
	s.Equal(g1, g2)
	s.Len(s.index.members[g1], 2)
}

func (s *GrouperSuite) TestNearDuplicatesJoinFarOnesDoNot() {
	// Three pairwise-near fingerprints (distance <= 3) plus one unrelated.
	base := uint64(0xABCDEF0123456789)
	near1 := base ^ 0x1       // distance 1
	near2 := base ^ 0x6       // distance 2
	far := base ^ (1<<63 - 1) // flips the low 63 bits

	g1 := s.assign(base)
	g2 := s.assign(near1)
	g3 := s.assign(near2)
	g4 := s.assign(far)

	s.Equal(g1, g2)
	s.Equal(g1, g3)
	s.NotEqual(g1, g4)
	s.Len(s.index.members[g1], 3)
	s.Len(s.index.members[g4], 1)
}

func (s *GrouperSuite) TestClosestGroupWins() {
	base := uint64(0x00FF00FF00FF00FF)
	gNear := s.assign(base)
	gFar := s.assign(base ^ 0xFF) // distance 8 from gNear: a separate group

	// The probe is distance 1 from gNear and 7 from gFar.
	got := s.assign(base ^ 0x1)
	s.Equal(gNear, got)
	s.NotEqual(gFar, got)
}

func (s *GrouperSuite) TestTieBrokenBySmallestGroupID() {
	base := uint64(0x1234123412341234)
	a := s.assign(base ^ 0b000111) // distance 6 between the two seeds
	b := s.assign(base ^ 0b111000)
	s.Require().NotEqual(a, b)

	// base is distance 3 from both group fingerprints.
	got := s.assign(base)
	want := a
	if b.String() < a.String() {
		want = b
	}
	s.Equal(want, got)
}

func (s *GrouperSuite) TestMissingFingerprintIsNotReady() {
	_, err := s.grouper.Assign(context.Background(), s.owner, uuid.New(), 0, false)
	s.ErrorIs(err, ErrNotReady)
	s.Empty(s.index.buckets)
}

func (s *GrouperSuite) TestBucketKeyIsFingerprintPrefix() {
	g := NewGrouper(s.index, WithBucketBits(16))
	s.Equal(int64(0xABCD), g.BucketKey(0xABCD_0000_0000_0000))
	s.Equal(int64(0), g.BucketKey(0x0000_FFFF_FFFF_FFFF))
}
