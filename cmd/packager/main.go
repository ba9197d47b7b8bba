// Command packager builds the installable package of the plugin from src/.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/denismitr/respimg/cmd/initialize"
	"github.com/denismitr/respimg/internal/packager"
	"os"
)

func main() {
	root := flag.String("root", ".", "project directory holding src/ and license.txt")
	name := flag.String("name", "responsive", "package name")
	version := flag.String("version", "", "package version, read from package.json when empty")
	output := flag.String("out", "", "output directory, <root>/dist when empty")
	flag.Parse()

	initialize.DotEnv()
	log := initialize.Logger(os.Getenv("RESPIMG_LOG_LEVEL"))

	p, err := packager.New(packager.Config{
		Root:    *root,
		Name:    *name,
		Version: *version,
		Output:  *output,
	}, log)
	if err != nil {
		log.Fatalln(err)
	}

	target, err := p.Build(context.Background())
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println(target)
}
