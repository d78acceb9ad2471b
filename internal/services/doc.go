// Package services implements the HTTP client for the generation backend and the
// resolvers that turn result storage keys into displayable URLs.
//
// # Client
//
// [Client] is constructed with an explicit [TokenProvider]; there is no package level client.
// Every authenticated call carries `Authorization: Bearer <token>` and the optional
// `X-Provider` / `X-Model` routing headers. Calls are paced by a [rate.Limiter].
//
// A 401 response triggers [TokenProvider.HandleUnauthorized] and is returned as an [*APIError]
// that unwraps to [shared.ErrUnauthorized]. The call is not retried; that is the caller's decision.
//
// # Endpoints
//
//   - POST /generate, /generate/search : single image, answered inline
//   - POST /generate/batch, /video/generate, /chat/messages : queued, answered with a task id
//   - GET /generate/task/{id} : task snapshot
//   - POST /generate/task/{id}/cancel : cancel, answered with the refunded quota
//   - GET /user/quota : remaining allowance
//
// # URL Resolution
//
// [PrefixResolver] joins storage keys onto a public base URL. [PresignResolver] signs keys
// against an S3 compatible bucket with minio-go.
package services
