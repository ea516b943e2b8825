package common

const (
	// AccessTokenCookieName carries the access token to every path.
	AccessTokenCookieName = "access_token"
	// RefreshTokenCookieName carries the refresh token to the auth routes only.
	RefreshTokenCookieName = "refresh_token"

	// AuthorizationHeader and BearerScheme form "Authorization: Bearer <token>".
	AuthorizationHeader = "Authorization"
	BearerScheme        = "Bearer"

	// AccessTokenMetadataKey is the gRPC metadata key accepted as an
	// alternative to the authorization header.
	AccessTokenMetadataKey = "access_token"
)
