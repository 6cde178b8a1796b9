// Package config loads the service configuration.
//
// # Configuration Sources
//
// Values are resolved in the following order, later sources winning:
//
//	1. Default()
//	2. A YAML file (PIXEL_CONFIG, ./config.yaml or ./configs/config.yaml)
//	3. Environment variables prefixed with PIXEL_
//
// # Environment Variables
//
//	PIXEL_SERVER_PORT=3000
//	PIXEL_LICENSE_SECRET=...
//	PIXEL_LICENSE_FILE_NAME=license.lic
//	PIXEL_LICENSE_DATA_DIR=/var/lib/pixel
//	PIXEL_LOGGING_LEVEL=debug
//
// When PIXEL_LICENSE_DATA_DIR is unset the legacy BARCODE_APP_DATA variable is
// consulted, then the working directory.
package config
