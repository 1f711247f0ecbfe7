// Command runbox submits a project directory to a runbox server.
//
// The directory is packed as a tar.gz archive, posted to /run_code and the
// sandbox's stdout and stderr are printed to the matching streams. The
// process exits with the sandbox's exit code, or 1 when there is none.
//
//	runbox --time 5s ./hello
//	runbox --format yaml --server http://sandbox:8080 ./hello
//
// RUNBOX_SERVER and RUNBOX_TOKEN provide defaults for --server and --token.
package main
