package main

import "winestage/internal/winestage"

func main() {
	winestage.Main()
}
