package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           llamad API
// @version         1.0
// @description     OpenAI-compatible gateway supervising local llama-server processes.
//
// @contact.name   llamad maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
