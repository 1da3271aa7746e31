package common

// DeviceTokenHeaderName is the HTTP header used to carry the device access
// token on outbound requests.
const DeviceTokenHeaderName = "Authorization"

// DeviceTokenScheme prefixes the device JWT in the Authorization header.
const DeviceTokenScheme = "Bearer"
