package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionState_IsUp(t *testing.T) {
	for _, s := range []ConnectionState{StateInit, StateDisconnected, StateConnecting, StateUnknown, ConnectionState(42)} {
		require.False(t, s.IsUp(), s.String())
	}
	require.True(t, StateConnected.IsUp())
	require.Equal(t, "Unknown", ConnectionState(42).String())
}

func TestComment_JSONShape(t *testing.T) {
	b, err := json.Marshal(CommentList{{ID: "local", Author: "alice", Body: "hi", CreatedAt: "d"}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"name":"alice","message":"hi","date":"d"}]`, string(b))
}

func TestComment_MatchesIgnoresID(t *testing.T) {
	a := Comment{ID: "1", Author: "alice", Body: "hi", CreatedAt: "d"}
	b := Comment{ID: "2", Author: "alice", Body: "hi", CreatedAt: "d"}
	require.True(t, a.Matches(b))
	b.Body = "yo"
	require.False(t, a.Matches(b))
}

func TestGrant_CanAccess(t *testing.T) {
	g := Grant{AppID: "blog.alice", Containers: Containers{PublicNamesContainer: {PermRead}}}
	require.True(t, g.CanAccess(PublicNamesContainer))
	require.False(t, g.CanAccess(OwnContainerName("blog.alice")))
	g.OwnContainer = true
	require.True(t, g.CanAccess(OwnContainerName("blog.alice")))
	require.False(t, g.CanAccess(OwnContainerName("other")))
}

func TestPermissionSet_Allows(t *testing.T) {
	s := PermissionSet{Principal: AnyoneKey, Allow: []Permission{PermInsert}}
	require.True(t, s.Allows(PermInsert))
	require.False(t, s.Allows(PermUpdate))
	require.True(t, PermUpdate.Valid())
	require.False(t, Permission("Delete").Valid())
}
