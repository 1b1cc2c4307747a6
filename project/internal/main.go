package main

import (
	_ "time/tzdata"

	"github.com/aarushishahhh/supplysync/project/internal/app"
)

func main() {
	app.New().Run()
}
