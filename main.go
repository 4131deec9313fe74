package main

import (
	"fmt"

	_ "github.com/agentuity/go-cacher/backend"
	_ "github.com/agentuity/go-cacher/cacher"
	_ "github.com/agentuity/go-cacher/coder"
	_ "github.com/agentuity/go-cacher/config"
	_ "github.com/agentuity/go-cacher/keys"
	_ "github.com/agentuity/go-cacher/middleware"
)

func main() {
	fmt.Println("Hi")
}
