package main

import (
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/cmd"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
