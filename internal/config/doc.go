// Package config loads service configuration from an optional YAML file and
// the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. A .env file is loaded into the environment by cmd/server before
// Load runs.
//
// Example configuration:
//
//	server:
//	  address: ":8080"
//	iat:
//	  app_id: "your-app-id"
//	  api_key: "your-api-key"
//	  api_secret: "your-api-secret"
//	  host_url: "wss://iat-api.xfyun.cn"
//	  request_path: "/v2/iat"
//	  language: "zh_cn"
//	  domain: "iat"
//	  punctuation: true
//	  connect_timeout: 10
//	  final_result_timeout: 5
//	audio:
//	  source: "browser"
//	logging:
//	  level: "info"
//	  format: "text"
//	  output: "stdout"
package config
