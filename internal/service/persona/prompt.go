package persona

import (
	"fmt"
	"math/rand"
	"strings"
)

var clarityRules = map[Clarity]string{
	ClarityFull: "You know exactly what you want. Describe requirements precisely, " +
		"use correct technical vocabulary and give concrete details when asked.",
	ClarityModerate: "You have a general idea of what you want but some details are fuzzy. " +
		"Use everyday language with occasional technical terms and leave some gaps for the developer to probe.",
	ClarityLow: "You are unsure what you want and struggle to put it into words. " +
		"Avoid technical vocabulary, describe feelings and vague goals, and contradict yourself now and then.",
}

var behaviorRules = map[Behavior]string{
	BehaviorAccepting: "You are easy-going. Respond warmly, accept reasonable proposals and give light feedback.",
	BehaviorSkeptical: "You are skeptical. Question proposals, ask why choices were made and need convincing before agreeing.",
	BehaviorPicky:     "You are picky. Point out small flaws, ask for revisions and are rarely fully satisfied.",
}

var roleContext = map[Role]string{
	RoleNone:       "You are working with a developer on a software project.",
	RoleFrontend:   "You are working with a frontend developer who builds the pages and interactions of your product.",
	RoleBackend:    "You are working with a backend developer who builds the services, data and APIs of your product.",
	RoleUIDesigner: "You are working with a UI designer who shapes the look and feel of your product.",
}

// SystemPrompt 根据人设与本轮是否附图生成系统指令，结果只取决于入参
func SystemPrompt(cfg Config, hasImage bool) string {
	var b strings.Builder
	b.WriteString("You are role-playing a client who has commissioned a software project. ")
	b.WriteString(roleContext[cfg.Role])
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Never break character. You are the client, not an AI assistant, and you never mention being a model.\n")
	b.WriteString("- Never ask the user for requirements. You are the one who holds the requirements; the user is the developer asking you.\n")
	b.WriteString("- Never claim to see an image unless one is attached to the current message.\n")
	b.WriteString("- Keep replies conversational and short, like chat messages. Do not use markdown formatting.\n")
	fmt.Fprintf(&b, "- Clarity (%s): %s\n", cfg.Clarity, clarityRules[cfg.Clarity])
	fmt.Fprintf(&b, "- Behavior (%s): %s\n", cfg.Behavior, behaviorRules[cfg.Behavior])

	if hasImage {
		b.WriteString("\nThe developer attached an image to this message. Look at it and react as the client would: ")
		b.WriteString("comment on what you see in relation to your project, in the tone and vocabulary described above.\n")
	} else {
		b.WriteString("\nNo image is attached to this message. If the developer refers to a picture, say you cannot see one.\n")
	}
	return b.String()
}

// projectCatalog 按角色划分的项目类型
var projectCatalog = map[Role][]string{
	RoleNone: {
		"online bakery shop",
		"community event calendar",
		"personal finance tracker",
		"pet adoption portal",
		"small clinic booking system",
	},
	RoleFrontend: {
		"landing page for a coffee brand",
		"portfolio site for a photographer",
		"restaurant menu and ordering page",
		"interactive product configurator",
		"fitness class schedule page",
	},
	RoleBackend: {
		"inventory management API",
		"appointment booking service",
		"loyalty points system",
		"order fulfillment pipeline",
		"user notification service",
	},
	RoleUIDesigner: {
		"mobile banking app redesign",
		"travel planning app",
		"children's learning app",
		"music streaming dashboard",
		"recipe sharing app",
	},
}

// ProjectTypes 返回角色对应的项目类型目录
func ProjectTypes(role Role) []string {
	if types, ok := projectCatalog[role]; ok {
		return types
	}
	return projectCatalog[RoleNone]
}

// BriefPrompt 随机挑选一个项目类型并生成开场简报的提示词
// rng 为空时使用全局随机源
func BriefPrompt(cfg Config, rng *rand.Rand) (string, string) {
	types := ProjectTypes(cfg.Role)
	var idx int
	if rng != nil {
		idx = rng.Intn(len(types))
	} else {
		idx = rand.Intn(len(types))
	}
	project := types[idx]

	prompt := fmt.Sprintf(
		"You are a client who wants a %s built. Write the opening message you would send to the developer "+
			"to introduce the project. %s %s "+
			"Write two to four sentences in first person as plain text. Do not use markdown, headings, bullet points, "+
			"bold or italics, and do not ask the developer what they want.",
		project, clarityRules[cfg.Clarity], behaviorRules[cfg.Behavior],
	)
	return project, prompt
}
