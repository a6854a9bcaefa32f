// Package database provides PostgreSQL connection pools for the connection
// journal when it is configured with the postgres driver.
package database
