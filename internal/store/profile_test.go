package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/targetlock/internal/pose"
)

func TestProfileRepository_CRUD(t *testing.T) {
	repo := newTestStore(t).Profiles()

	p := &Profile{
		Name:       "webcam",
		Width:      640,
		Height:     480,
		Intrinsics: pose.NewIntrinsics(600, 610, 320, 240, 0.1, -0.05, 0.001, 0.002, 0.01),
	}
	require.NoError(t, repo.Create(p))
	require.NotEmpty(t, p.ID, "Create() should assign an ID")

	got, err := repo.GetByID(p.ID)
	require.NoError(t, err)
	ignoreTimes := cmpopts.IgnoreFields(Profile{}, "CreatedAt", "UpdatedAt")
	assert.Empty(t, cmp.Diff(p, got, ignoreTimes), "GetByID() mismatch (-want +got)")

	byName, err := repo.GetByName("webcam")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	p.Name = "webcam-hd"
	p.Intrinsics = pose.NewIntrinsics(900, 900, 640, 360)
	require.NoError(t, repo.Update(p))
	got, err = repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(p, got, ignoreTimes), "after Update() mismatch (-want +got)")
	assert.Nil(t, got.Intrinsics.D, "no distortion is stored as nil")

	require.NoError(t, repo.Delete(p.ID))
	_, err = repo.GetByID(p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileRepository_List(t *testing.T) {
	repo := newTestStore(t).Profiles()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.Create(&Profile{Name: name, Intrinsics: pose.NewIntrinsics(500, 500, 100, 100)}), name)
	}

	list, err := repo.List()
	require.NoError(t, err)
	var names []string
	for _, p := range list {
		names = append(names, p.Name)
	}
	assert.Empty(t, cmp.Diff([]string{"alpha", "mid", "zeta"}, names), "List() order mismatch (-want +got)")
}

func TestProfileRepository_Errors(t *testing.T) {
	repo := newTestStore(t).Profiles()

	assert.ErrorIs(t, repo.Create(&Profile{Name: "bad"}), pose.ErrInvalidIntrinsics)

	good := pose.NewIntrinsics(500, 500, 100, 100)
	require.NoError(t, repo.Create(&Profile{Name: "dup", Intrinsics: good}))
	assert.Error(t, repo.Create(&Profile{Name: "dup", Intrinsics: good}), "duplicate name")

	assert.ErrorIs(t, repo.Update(&Profile{ID: "missing", Name: "x", Intrinsics: good}), ErrNotFound)
	assert.ErrorIs(t, repo.Delete("missing"), ErrNotFound)
	_, err := repo.GetByName("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
