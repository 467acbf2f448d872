/*
Package security groups the server's transport and identity concerns.

  - tls: listener certificates with hot reload
  - secrets: ${secret:name} resolution from files and the environment
  - auth: API key and JWT authentication that maps each request to a user

The user resolved by auth is the key under which the usage ledger
accounts transcribed seconds.
*/
package security
