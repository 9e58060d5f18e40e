// Package upstream exposes HTTP platform services as tools.
//
// # Service Files
//
// Each file in the services directory (.json, .yaml, .yml or .toml) defines
// one service:
//
//	service_config:
//	  name: weather
//	  base_url: https://api.example.com
//	  api_key: ${WEATHER_KEY}
//	  version: v1          # default v1
//	  timeout: 30          # seconds
//	  max_retries: 3
//	  cache_ttl: 300       # seconds; 0 disables caching
//	service_definition:
//	  name: weather
//	  category: data
//	  enabled: true
//	  endpoints:
//	    forecast:
//	      path: forecast
//	      method: GET
//	      rate_limit: 60   # per minute
//	      parameters:
//	        city: {type: string, required: true}
//	        days: {type: integer, defaultValue: 3}
//
// The endpoint above becomes the tool weather_forecast with the signature
// (city: string, days: integer = 3). Parameters are listed in name order.
//
// # Requests
//
// URLs are base_url/version/path. GET and DELETE send parameters as the
// query string; other methods send a JSON body, or a urlencoded form with an
// appKey field when content_type is form-data. Endpoints that require auth
// get a bearer token. JSON responses of the shape {"data": {"list": [...]}}
// are unwrapped to the list.
//
// Every call goes through a per-service bulkhead, circuit breaker and
// retry with exponential backoff (4xx responses are not retried). GET
// responses are cached for cache_ttl and concurrent identical requests
// share one upstream call.
//
// # Reloading
//
// Manager.Watch reloads a file when it is written and drops its tools when it
// is removed. Tools of one service are swapped in the registry atomically.
package upstream
