package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_IsAllowed(t *testing.T) {
	s := NewSet("u1", false, map[string][]Permission{
		"org-1": {CreateSubjects, EditSubjects},
		"org-2": {CreateSubjects},
	})

	assert.True(t, s.IsAllowed([]string{"org-1"}, EditSubjects))
	assert.True(t, s.IsAllowed([]string{"org-1", "org-2"}, CreateSubjects))
	assert.False(t, s.IsAllowed([]string{"org-1", "org-2"}, EditSubjects))
	assert.False(t, s.IsAllowed([]string{"org-3"}, CreateSubjects))
	assert.False(t, s.IsAllowed(nil, CreateSubjects))
	assert.False(t, s.IsAdmin())
	assert.Equal(t, []string{"org-1", "org-2"}, s.Organizations())
}

func TestSet_AdminAllowsEverything(t *testing.T) {
	s := NewSet("root", true, nil)
	assert.True(t, s.IsAdmin())
	assert.True(t, s.IsAllowed([]string{"any"}, DeletePrograms))
}

func TestNewSet_NoGrants(t *testing.T) {
	s := NewSet("reader", false, nil)
	assert.False(t, s.IsAdmin())
	assert.False(t, s.IsAllowed([]string{"org-1"}, CreateSubjects))
	assert.Empty(t, s.Organizations())
}

func TestFromClaims(t *testing.T) {
	s, err := FromClaims("user-7", map[string]interface{}{
		"admin": false,
		"org_permissions": map[string]interface{}{
			"org-1": []interface{}{"create_program_20221"},
		},
	}, "", "")
	require.NoError(t, err)
	assert.True(t, s.IsAllowed([]string{"org-1"}, CreatePrograms))
	assert.False(t, s.IsAllowed([]string{"org-1"}, EditPrograms))
	assert.Equal(t, "user-7", s.Subject())
}

func TestFromClaims_CustomNames(t *testing.T) {
	s, err := FromClaims("u", map[string]interface{}{"is_super": true}, "is_super", "perms")
	require.NoError(t, err)
	assert.True(t, s.IsAdmin())
}

func TestFromClaims_Invalid(t *testing.T) {
	tests := map[string]struct {
		claims map[string]interface{}
		claim  string
	}{
		"admin not bool":  {claims: map[string]interface{}{"admin": "yes"}, claim: "admin"},
		"orgs not object": {claims: map[string]interface{}{"org_permissions": []interface{}{"x"}}, claim: "org_permissions"},
		"perms not array": {claims: map[string]interface{}{"org_permissions": map[string]interface{}{"o": "create"}}, claim: "org_permissions"},
		"perm not string": {claims: map[string]interface{}{"org_permissions": map[string]interface{}{"o": []interface{}{1}}}, claim: "org_permissions"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromClaims("u", tt.claims, "", "")
			require.Error(t, err)
			assert.Equal(t, tt.claim, ClaimName(err))
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithChecker(context.Background(), NewSet("reader", false, nil))
	c, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "reader", c.Subject())
}
